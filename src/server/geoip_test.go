package server_test

import (
	"errors"
	"net"
	"testing"

	"github.com/fenwicklabs/phpedge/src/server"
	"github.com/stretchr/testify/require"
)

func TestNoopGeoIPAlwaysAllows(t *testing.T) {
	allowed, err := server.NoopGeoIP{}.Allowed(net.ParseIP("1.2.3.4"))
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestListFilterDenyListTakesPrecedence(t *testing.T) {
	f := &server.ListFilter{
		ResolveCountry: func(net.IP) (string, error) { return "RU", nil },
		AllowList:      []string{"RU", "US"},
		DenyList:       []string{"RU"},
	}
	allowed, err := f.Allowed(net.ParseIP("1.2.3.4"))
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestListFilterAllowListRestricts(t *testing.T) {
	f := &server.ListFilter{
		ResolveCountry: func(net.IP) (string, error) { return "DE", nil },
		AllowList:      []string{"US"},
	}
	allowed, err := f.Allowed(net.ParseIP("1.2.3.4"))
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestListFilterNoAllowListAllowsAnyNonDenied(t *testing.T) {
	f := &server.ListFilter{
		ResolveCountry: func(net.IP) (string, error) { return "DE", nil },
	}
	allowed, err := f.Allowed(net.ParseIP("1.2.3.4"))
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestListFilterFailsOpenOnResolverError(t *testing.T) {
	f := &server.ListFilter{
		ResolveCountry: func(net.IP) (string, error) { return "", errors.New("lookup failed") },
		AllowList:      []string{"US"},
	}
	allowed, err := f.Allowed(net.ParseIP("1.2.3.4"))
	require.Error(t, err)
	require.True(t, allowed)
}
