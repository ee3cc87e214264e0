package php_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/fenwicklabs/phpedge/src/php"
	"github.com/stretchr/testify/require"
)

// fakeUpstream builds a well-formed STDOUT/END_REQUEST reply stream
// carrying echoBody, for the round-trip property in §8.
func fakeUpstream(t *testing.T, requestID uint16, echoBody []byte) []byte {
	t.Helper()
	var out bytes.Buffer

	writeRecord := func(recType byte, content []byte) {
		pad := (8 - len(content)%8) % 8
		header := make([]byte, 8)
		header[0] = 1
		header[1] = recType
		binary.BigEndian.PutUint16(header[2:4], requestID)
		binary.BigEndian.PutUint16(header[4:6], uint16(len(content)))
		header[6] = byte(pad)
		out.Write(header)
		out.Write(content)
		out.Write(make([]byte, pad))
	}

	writeRecord(6, echoBody)             // STDOUT
	writeRecord(3, make([]byte, 8))       // END_REQUEST
	return out.Bytes()
}

func TestEncodeRequestProducesWellFramedStream(t *testing.T) {
	var buf bytes.Buffer
	params := map[string]string{
		"SCRIPT_FILENAME": "/var/www/index.php",
		"REQUEST_METHOD":  "GET",
	}
	require.NoError(t, php.EncodeRequest(&buf, 1, params, []byte("hello=world")))
	require.NotZero(t, buf.Len())
	// Every record in the stream must start with version=1.
	data := buf.Bytes()
	for len(data) > 0 {
		require.GreaterOrEqual(t, len(data), 8)
		require.Equal(t, byte(1), data[0])
		contentLen := int(binary.BigEndian.Uint16(data[4:6]))
		pad := int(data[6])
		data = data[8+contentLen+pad:]
	}
}

func TestReadResponseAccumulatesStdoutUntilEndRequest(t *testing.T) {
	stream := fakeUpstream(t, 1, []byte("Status: 201 Created\r\n\r\nBODY"))
	stdout, stderr, err := php.ReadResponse(bytes.NewReader(stream), 1)
	require.NoError(t, err)
	require.Empty(t, stderr)
	require.Equal(t, "Status: 201 Created\r\n\r\nBODY", string(stdout))
}

func TestReadResponseDrainsOtherRequestIDs(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(fakeUpstream(t, 2, []byte("not mine")))
	buf.Write(fakeUpstream(t, 1, []byte("mine")))

	stdout, _, err := php.ReadResponse(&buf, 1)
	require.NoError(t, err)
	require.Equal(t, "mine", string(stdout))
}

func TestReadResponseUnexpectedEOFIsRetryable(t *testing.T) {
	_, _, err := php.ReadResponse(bytes.NewReader(nil), 1)
	require.Error(t, err)
	var wireErr *php.WireError
	require.ErrorAs(t, err, &wireErr)
	require.True(t, wireErr.Retry)
}

func TestReadResponseUnsupportedVersionIsProtocolError(t *testing.T) {
	header := make([]byte, 8)
	header[0] = 2 // unsupported version
	header[1] = 6
	_, _, err := php.ReadResponse(bytes.NewReader(header), 1)
	require.Error(t, err)
	var wireErr *php.WireError
	require.ErrorAs(t, err, &wireErr)
	require.True(t, wireErr.Protocol)
}

func TestFastCGIRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	params := map[string]string{"SCRIPT_FILENAME": "/var/www/x.php"}
	body := bytes.Repeat([]byte("x"), 70000) // exercises chunking above maxChunk
	require.NoError(t, php.EncodeRequest(&buf, 1, params, body))

	// The STDIN records of the encoded stream reassemble to the full body.
	var stdin []byte
	data := buf.Bytes()
	for len(data) > 0 {
		contentLen := int(binary.BigEndian.Uint16(data[4:6]))
		pad := int(data[6])
		if data[1] == 5 { // STDIN
			stdin = append(stdin, data[8:8+contentLen]...)
		}
		data = data[8+contentLen+pad:]
	}
	require.Equal(t, body, stdin)

	echoed := []byte("Content-Type: text/plain\r\n\r\n" + string(body[:100]))
	upstream := fakeUpstream(t, 1, echoed)
	stdout, _, err := php.ReadResponse(bytes.NewReader(upstream), 1)
	require.NoError(t, err)
	require.Equal(t, echoed, stdout)
}
