package multiplex

import (
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/cbeuw/connutil"
	"github.com/stretchr/testify/assert"
)

func makeSessionPair(t *testing.T, clientConfig, serverConfig Config) (*Session, *Session) {
	c, s := connutil.AsyncPipe()
	clientSesh := Client(c, clientConfig)
	serverSesh := Server(s, serverConfig)
	t.Cleanup(func() {
		_ = clientSesh.Close()
		_ = serverSesh.Close()
	})
	return clientSesh, serverSesh
}

func TestPingPong(t *testing.T) {
	clientSesh, serverSesh := makeSessionPair(t, Config{}, Config{})

	clientStream, err := clientSesh.OpenStream()
	assert.NoError(t, err)
	assert.EqualValues(t, 1, clientStream.ID())

	serverStream, err := serverSesh.AcceptStream()
	assert.NoError(t, err)
	assert.EqualValues(t, 1, serverStream.ID())

	_, err = clientStream.Write([]byte("ping"))
	assert.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(serverStream, buf)
	assert.NoError(t, err)
	assert.Equal(t, []byte("ping"), buf)

	_, err = serverStream.Write([]byte("pong"))
	assert.NoError(t, err)
	_, err = io.ReadFull(clientStream, buf)
	assert.NoError(t, err)
	assert.Equal(t, []byte("pong"), buf)

	// closing one side is observed as end-of-input by the other
	assert.NoError(t, clientStream.Close())
	_, err = serverStream.Read(buf)
	assert.Equal(t, io.EOF, err)

	assert.Equal(t, errRepeatStreamClosing, clientStream.Close())
	_, err = clientStream.Write([]byte("x"))
	assert.Equal(t, ErrBrokenStream, err)
}

func TestServerInitiatedStream(t *testing.T) {
	clientSesh, serverSesh := makeSessionPair(t, Config{}, Config{})

	serverStream, err := serverSesh.OpenStream()
	assert.NoError(t, err)
	assert.EqualValues(t, 2, serverStream.ID())

	clientStream, err := clientSesh.AcceptStream()
	assert.NoError(t, err)
	assert.EqualValues(t, 2, clientStream.ID())
}

func TestConcurrentEcho(t *testing.T) {
	const numStreams = 8
	const msgLen = 65536
	clientSesh, serverSesh := makeSessionPair(t, Config{}, Config{})

	go func() {
		for {
			stream, err := serverSesh.AcceptStream()
			if err != nil {
				return
			}
			go func(stream *Stream) {
				_, _ = io.Copy(stream, stream)
				_ = stream.Close()
			}(stream)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < numStreams; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream, err := clientSesh.OpenStream()
			if err != nil {
				t.Errorf("OpenStream: %v", err)
				return
			}
			testData := make([]byte, msgLen)
			rand.Read(testData)

			// we cannot call t.Fatalf in concurrent contexts
			n, err := stream.Write(testData)
			if n != msgLen {
				t.Errorf("written only %v, err %v", n, err)
			}
			recvBuf := make([]byte, msgLen)
			_, err = io.ReadFull(stream, recvBuf)
			if err != nil {
				t.Errorf("read back: %v", err)
			}
			if !assert.ObjectsAreEqual(testData, recvBuf) {
				t.Errorf("echoed data is different")
			}
			_ = stream.Close()
		}()
	}
	wg.Wait()
}

func TestLargeWriteSplitsIntoFrames(t *testing.T) {
	// a write larger than MaxFrameSize must arrive intact
	clientSesh, serverSesh := makeSessionPair(t, Config{MaxFrameSize: 1024}, Config{MaxFrameSize: 1024})

	testData := make([]byte, 10000)
	rand.Read(testData)

	clientStream, err := clientSesh.OpenStream()
	assert.NoError(t, err)
	go func() {
		_, _ = clientStream.Write(testData)
	}()

	serverStream, err := serverSesh.AcceptStream()
	assert.NoError(t, err)
	recvBuf := make([]byte, len(testData))
	_, err = io.ReadFull(serverStream, recvBuf)
	assert.NoError(t, err)
	assert.Equal(t, testData, recvBuf)
}

func TestValveAccounting(t *testing.T) {
	clientValve := MakeValve(1<<30, 1<<30)
	serverValve := MakeValve(1<<30, 1<<30)
	clientSesh, serverSesh := makeSessionPair(t,
		Config{Valve: clientValve}, Config{Valve: serverValve})

	clientStream, err := clientSesh.OpenStream()
	assert.NoError(t, err)
	_, err = clientStream.Write([]byte("metered"))
	assert.NoError(t, err)

	serverStream, err := serverSesh.AcceptStream()
	assert.NoError(t, err)
	buf := make([]byte, 7)
	_, err = io.ReadFull(serverStream, buf)
	assert.NoError(t, err)

	// SYN + PSH on the wire in each direction's counter. The tx counter is
	// bumped by the send loop after the write lands, so give it a moment
	wantBytes := int64(2*frameHeaderLength + 7)
	for i := 0; clientValve.GetTx() != wantBytes && i < 200; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, wantBytes, clientValve.GetTx())
	assert.Equal(t, wantBytes, serverValve.GetRx())
	assert.EqualValues(t, 0, clientValve.GetRx())

	rx, tx := serverValve.Nullify()
	assert.Equal(t, wantBytes, rx)
	assert.EqualValues(t, 0, tx)
	assert.EqualValues(t, 0, serverValve.GetRx())
}

func TestSessionCloseUnblocksPeer(t *testing.T) {
	clientSesh, serverSesh := makeSessionPair(t, Config{}, Config{})
	assert.NoError(t, clientSesh.Close())

	// the closed transport takes the peer session down with it
	for i := 0; !serverSesh.IsClosed() && i < 200; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, serverSesh.IsClosed())
	_, err := serverSesh.AcceptStream()
	assert.Equal(t, io.EOF, err)
}

func TestStreamReadDeadline(t *testing.T) {
	clientSesh, _ := makeSessionPair(t, Config{}, Config{})
	stream, err := clientSesh.OpenStream()
	assert.NoError(t, err)
	assert.NoError(t, stream.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	_, err = stream.Read(make([]byte, 1))
	assert.Equal(t, ErrTimeout, err)
}
