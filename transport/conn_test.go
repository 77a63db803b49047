package transport_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/luma/beacon/protocol"
	"github.com/luma/beacon/transport"
)

// read is one result of a Read call on a scriptedStream.
type read struct {
	data string
	err  error
}

// scriptedStream hands out one scripted read per Read call, then io.EOF. It
// records every Write call separately.
type scriptedStream struct {
	reads  []read
	writes [][]byte
}

func streamOf(chunks ...string) *scriptedStream {
	s := &scriptedStream{}
	for _, chunk := range chunks {
		s.reads = append(s.reads, read{data: chunk})
	}

	return s
}

func (s *scriptedStream) Read(p []byte) (int, error) {
	if len(s.reads) == 0 {
		return 0, io.EOF
	}

	next := &s.reads[0]
	n := copy(p, next.data)
	next.data = next.data[n:]

	if next.data != "" {
		return n, nil
	}

	err := next.err
	s.reads = s.reads[1:]

	return n, err
}

func (s *scriptedStream) Write(p []byte) (int, error) {
	s.writes = append(s.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (s *scriptedStream) written() string {
	return string(bytes.Join(s.writes, nil))
}

// emptyStream returns no bytes and no error forever.
type emptyStream struct{ bytes.Buffer }

func (emptyStream) Read(p []byte) (int, error) {
	return 0, nil
}

func encode(frame protocol.Frame) string {
	b, err := protocol.Encode(frame)
	Expect(err).To(Succeed())
	return string(b)
}

func readAll(conn *transport.Conn) []protocol.Frame {
	var frames []protocol.Frame

	for {
		frame, err := conn.ReadFrame()
		Expect(err).To(Succeed())

		if frame == nil {
			return frames
		}

		frames = append(frames, frame)
	}
}

var sampleFrames = []protocol.Frame{
	protocol.Simple("OK"),
	protocol.Error("ERR unknown command 'FOO'"),
	protocol.Integer(-1234567890),
	protocol.Null{},
	protocol.Bulk("hello\r\nworld"),
	protocol.Array{
		protocol.Bulk("SET"),
		protocol.Bulk("key"),
		protocol.Array{protocol.Integer(1), protocol.Null{}},
	},
}

var _ = Describe("Conn", func() {
	Describe("ReadFrame()", func() {
		It("reads a frame delivered in one chunk", func() {
			conn := transport.NewConn(streamOf("$5\r\nhello\r\n"), transport.ConnOptions{})

			frame, err := conn.ReadFrame()
			Expect(err).To(Succeed())
			Expect(frame).To(Equal(protocol.Bulk("hello")))
			Expect(conn.Buffered()).To(Equal(0))
		})

		It("returns the same frame however the bytes are split in two", func() {
			for _, expected := range sampleFrames {
				data := encode(expected)

				for i := 1; i < len(data); i++ {
					conn := transport.NewConn(streamOf(data[:i], data[i:]), transport.ConnOptions{})

					frame, err := conn.ReadFrame()
					Expect(err).To(Succeed(), "split at %d of %q", i, data)
					Expect(frame).To(Equal(expected), "split at %d of %q", i, data)
				}
			}
		})

		It("returns the same frame when the bytes arrive one at a time", func() {
			for _, expected := range sampleFrames {
				data := encode(expected)
				chunks := make([]string, 0, len(data))
				for i := 0; i < len(data); i++ {
					chunks = append(chunks, data[i:i+1])
				}

				conn := transport.NewConn(streamOf(chunks...), transport.ConnOptions{})
				Expect(readAll(conn)).To(Equal([]protocol.Frame{expected}))
			}
		})

		It("returns frames sent back to back one per call", func() {
			var data string
			for _, frame := range sampleFrames {
				data += encode(frame)
			}

			conn := transport.NewConn(streamOf(data), transport.ConnOptions{})

			frame, err := conn.ReadFrame()
			Expect(err).To(Succeed())
			Expect(frame).To(Equal(sampleFrames[0]))
			Expect(conn.Buffered()).To(Equal(len(data) - len(encode(sampleFrames[0]))))

			Expect(readAll(conn)).To(Equal(sampleFrames[1:]))
		})

		It("keeps the tail of a read that ends part way through a frame", func() {
			conn := transport.NewConn(streamOf("+OK\r\n:4", "2\r\n"), transport.ConnOptions{})

			Expect(readAll(conn)).To(Equal([]protocol.Frame{
				protocol.Simple("OK"),
				protocol.Integer(42),
			}))
		})

		It("returns no frame and no error when the stream closes cleanly", func() {
			conn := transport.NewConn(streamOf(), transport.ConnOptions{})

			frame, err := conn.ReadFrame()
			Expect(err).To(Succeed())
			Expect(frame).To(BeNil())
		})

		It("returns ErrConnectionReset when the stream closes mid frame", func() {
			conn := transport.NewConn(streamOf("$5\r\nhel"), transport.ConnOptions{})

			_, err := conn.ReadFrame()
			Expect(errors.Is(err, transport.ErrConnectionReset)).To(BeTrue())
		})

		It("treats bytes returned together with io.EOF as data", func() {
			stream := &scriptedStream{reads: []read{{data: ":7\r\n", err: io.EOF}}}
			conn := transport.NewConn(stream, transport.ConnOptions{})

			Expect(readAll(conn)).To(Equal([]protocol.Frame{protocol.Integer(7)}))
		})

		It("returns a malformed error for an unknown prefix", func() {
			conn := transport.NewConn(streamOf("!bad\r\n"), transport.ConnOptions{})

			_, err := conn.ReadFrame()
			Expect(errors.Is(err, protocol.ErrMalformed)).To(BeTrue())
		})

		It("returns stream errors unchanged and keeps the bytes read so far", func() {
			errBoom := errors.New("boom")
			stream := &scriptedStream{reads: []read{
				{data: "+O", err: errBoom},
				{data: "K\r\n"},
			}}
			conn := transport.NewConn(stream, transport.ConnOptions{})

			_, err := conn.ReadFrame()
			Expect(err).To(BeIdenticalTo(errBoom))
			Expect(conn.Buffered()).To(Equal(2))

			frame, err := conn.ReadFrame()
			Expect(err).To(Succeed())
			Expect(frame).To(Equal(protocol.Simple("OK")))
		})

		It("gives up on a stream that never makes progress", func() {
			conn := transport.NewConn(&emptyStream{}, transport.ConnOptions{})

			_, err := conn.ReadFrame()
			Expect(err).To(MatchError(io.ErrNoProgress))
		})

		Describe("buffer growth", func() {
			It("grows the buffer for a frame larger than it", func() {
				reg := prometheus.NewRegistry()
				payload := strings.Repeat("x", 10000)
				conn := transport.NewConn(streamOf(encode(protocol.Bulk(payload))), transport.ConnOptions{
					BufferSize: 16,
					Metrics:    transport.NewMetrics(reg),
				})

				Expect(readAll(conn)).To(Equal([]protocol.Frame{protocol.Bulk(payload)}))

				// 16 doubles to 16384 in ten steps
				Expect(bufferGrowths(reg)).To(BeEquivalentTo(10))
			})

			It("reads a frame exactly the size of the buffer", func() {
				data := encode(protocol.Simple("0123456789abc"))
				Expect(data).To(HaveLen(16))

				conn := transport.NewConn(streamOf(data, data), transport.ConnOptions{BufferSize: 16})

				Expect(readAll(conn)).To(Equal([]protocol.Frame{
					protocol.Simple("0123456789abc"),
					protocol.Simple("0123456789abc"),
				}))
			})

			It("reuses consumed space instead of growing", func() {
				reg := prometheus.NewRegistry()

				// The first read fills the eight byte buffer with one frame and
				// half of the next.
				conn := transport.NewConn(streamOf("+a\r\n+bcd\r\n"), transport.ConnOptions{
					BufferSize: 8,
					Metrics:    transport.NewMetrics(reg),
				})

				Expect(readAll(conn)).To(Equal([]protocol.Frame{
					protocol.Simple("a"),
					protocol.Simple("bcd"),
				}))

				Expect(bufferGrowths(reg)).To(BeZero())
			})
		})

		Describe("MaxFrameSize", func() {
			It("rejects a declared bulk length over the limit without reading it", func() {
				conn := transport.NewConn(streamOf("$1000\r\n"), transport.ConnOptions{MaxFrameSize: 64})

				_, err := conn.ReadFrame()
				Expect(errors.Is(err, protocol.ErrFrameTooLarge)).To(BeTrue())
			})

			It("rejects an unterminated line that outgrows the limit", func() {
				conn := transport.NewConn(streamOf("+"+strings.Repeat("a", 100)), transport.ConnOptions{
					BufferSize:   16,
					MaxFrameSize: 64,
				})

				_, err := conn.ReadFrame()
				Expect(errors.Is(err, protocol.ErrFrameTooLarge)).To(BeTrue())
				Expect(errors.Is(err, protocol.ErrMalformed)).To(BeTrue())
			})

			It("accepts frames within the limit", func() {
				conn := transport.NewConn(streamOf(encode(protocol.Bulk(strings.Repeat("a", 50)))), transport.ConnOptions{
					MaxFrameSize: 64,
				})

				Expect(readAll(conn)).To(HaveLen(1))
			})

			It("applies the limit to the whole frame however it is split", func() {
				data := encode(protocol.Bulk("0123456789"))
				Expect(data).To(HaveLen(17))

				chunkings := [][]string{{data}}
				for i := 1; i < len(data); i++ {
					chunkings = append(chunkings, []string{data[:i], data[i:]})
				}

				for _, chunks := range chunkings {
					conn := transport.NewConn(streamOf(chunks...), transport.ConnOptions{MaxFrameSize: 17})

					frame, err := conn.ReadFrame()
					Expect(err).To(Succeed(), "chunks %q", chunks)
					Expect(frame).To(Equal(protocol.Bulk("0123456789")), "chunks %q", chunks)

					conn = transport.NewConn(streamOf(chunks...), transport.ConnOptions{MaxFrameSize: 16})

					_, err = conn.ReadFrame()
					Expect(errors.Is(err, protocol.ErrFrameTooLarge)).To(BeTrue(), "chunks %q: %v", chunks, err)
				}
			})

			It("rejects arrays nested past MaxDepth", func() {
				conn := transport.NewConn(streamOf("*1\r\n*1\r\n*1\r\n:1\r\n"), transport.ConnOptions{MaxDepth: 2})

				_, err := conn.ReadFrame()
				Expect(errors.Is(err, protocol.ErrTooDeep)).To(BeTrue())
			})

			It("limits nesting by default", func() {
				data := strings.Repeat("*1\r\n", transport.DefaultMaxDepth+1) + ":1\r\n"
				conn := transport.NewConn(streamOf(data), transport.ConnOptions{})

				_, err := conn.ReadFrame()
				Expect(errors.Is(err, protocol.ErrTooDeep)).To(BeTrue())
			})

			It("allows any nesting when MaxDepth is negative", func() {
				var expected protocol.Frame = protocol.Integer(1)
				for i := 0; i < 100; i++ {
					expected = protocol.Array{expected}
				}

				conn := transport.NewConn(streamOf(encode(expected)), transport.ConnOptions{MaxDepth: -1})
				Expect(readAll(conn)).To(Equal([]protocol.Frame{expected}))
			})
		})
	})

	Describe("WriteFrame()", func() {
		It("writes the whole frame with a single write to the stream", func() {
			stream := streamOf()
			conn := transport.NewConn(stream, transport.ConnOptions{})

			frame := protocol.Array{protocol.Bulk("GET"), protocol.Bulk("key"), protocol.Integer(12)}
			Expect(conn.WriteFrame(frame)).To(Succeed())

			Expect(stream.writes).To(HaveLen(1))
			Expect(stream.written()).To(Equal("*3\r\n$3\r\nGET\r\n$3\r\nkey\r\n:12\r\n"))
		})

		It("writes a bulk larger than the write buffer in full", func() {
			stream := streamOf()
			conn := transport.NewConn(stream, transport.ConnOptions{BufferSize: 16})

			payload := strings.Repeat("z", 1000)
			Expect(conn.WriteFrame(protocol.Bulk(payload))).To(Succeed())
			Expect(stream.written()).To(Equal("$1000\r\n" + payload + "\r\n"))
		})

		It("writes nothing for a frame that cannot be encoded", func() {
			stream := streamOf()
			conn := transport.NewConn(stream, transport.ConnOptions{})

			err := conn.WriteFrame(protocol.Array{protocol.Simple("OK"), protocol.Simple("bad\r\n")})
			Expect(errors.Is(err, protocol.ErrInvalidFrame)).To(BeTrue())
			Expect(stream.writes).To(BeEmpty())
		})
	})

	Describe("over a duplex stream", func() {
		It("reads what the other end writes while writing concurrently", func() {
			left, right := net.Pipe()
			defer left.Close()

			writer := transport.NewConn(left, transport.ConnOptions{})
			reader := transport.NewConn(right, transport.ConnOptions{BufferSize: 8})

			go func() {
				defer GinkgoRecover()

				for _, frame := range sampleFrames {
					Expect(writer.WriteFrame(frame)).To(Succeed())
				}

				Expect(writer.Close()).To(Succeed())
			}()

			Expect(readAll(reader)).To(Equal(sampleFrames))
		})
	})

	Describe("metrics", func() {
		It("counts frames read and written by kind", func() {
			reg := prometheus.NewRegistry()
			metrics := transport.NewMetrics(reg)

			stream := streamOf("+OK\r\n$1\r\na\r\n$1\r\nb\r\n")
			conn := transport.NewConn(stream, transport.ConnOptions{Metrics: metrics})

			Expect(readAll(conn)).To(HaveLen(3))
			Expect(conn.WriteFrame(protocol.Integer(1))).To(Succeed())

			expected := `
# HELP beacon_conn_frames_read_total Frames read from connections.
# TYPE beacon_conn_frames_read_total counter
beacon_conn_frames_read_total{kind="bulk"} 2
beacon_conn_frames_read_total{kind="simple"} 1
# HELP beacon_conn_frames_written_total Frames written to connections.
# TYPE beacon_conn_frames_written_total counter
beacon_conn_frames_written_total{kind="integer"} 1
# HELP beacon_conn_read_bytes_total Bytes read from connection streams.
# TYPE beacon_conn_read_bytes_total counter
beacon_conn_read_bytes_total 19
# HELP beacon_conn_written_bytes_total Bytes written to connection streams.
# TYPE beacon_conn_written_bytes_total counter
beacon_conn_written_bytes_total 4
`
			Expect(testutil.GatherAndCompare(reg, strings.NewReader(expected),
				"beacon_conn_frames_read_total",
				"beacon_conn_frames_written_total",
				"beacon_conn_read_bytes_total",
				"beacon_conn_written_bytes_total",
			)).To(Succeed())
		})

		It("counts failed reads by reason", func() {
			reg := prometheus.NewRegistry()
			metrics := transport.NewMetrics(reg)

			conn := transport.NewConn(streamOf("$5\r\nhel"), transport.ConnOptions{Metrics: metrics})
			_, err := conn.ReadFrame()
			Expect(err).To(HaveOccurred())

			expected := `
# HELP beacon_conn_read_errors_total Failed frame reads by reason.
# TYPE beacon_conn_read_errors_total counter
beacon_conn_read_errors_total{reason="reset"} 1
`
			Expect(testutil.GatherAndCompare(reg, strings.NewReader(expected),
				"beacon_conn_read_errors_total",
			)).To(Succeed())
		})
	})

	Describe("Trace", func() {
		It("logs every frame read and written as JSON", func() {
			core, logs := observer.New(zapcore.DebugLevel)

			stream := streamOf("$5\r\nhello\r\n")
			conn := transport.NewConn(stream, transport.ConnOptions{Trace: true, Log: zap.New(core)})

			Expect(readAll(conn)).To(HaveLen(1))
			Expect(conn.WriteFrame(protocol.Simple("OK"))).To(Succeed())

			read := logs.FilterMessage("Read frame").All()
			Expect(read).To(HaveLen(1))
			Expect(read[0].ContextMap()).To(HaveKeyWithValue("frame", `"hello"`))
			Expect(read[0].ContextMap()).To(HaveKeyWithValue("kind", "bulk"))

			wrote := logs.FilterMessage("Wrote frame").All()
			Expect(wrote).To(HaveLen(1))
			Expect(wrote[0].ContextMap()).To(HaveKeyWithValue("frame", `{"simple":"OK"}`))
		})

		It("logs nothing when tracing is off", func() {
			core, logs := observer.New(zapcore.DebugLevel)

			conn := transport.NewConn(streamOf("+OK\r\n"), transport.ConnOptions{Log: zap.New(core)})
			Expect(readAll(conn)).To(HaveLen(1))

			Expect(logs.Len()).To(Equal(0))
		})
	})
})

// bufferGrowths is the number of times any read buffer registered with reg
// has grown.
func bufferGrowths(reg *prometheus.Registry) uint64 {
	families, err := reg.Gather()
	Expect(err).To(Succeed())

	for _, family := range families {
		if family.GetName() == "beacon_conn_read_buffer_grown_bytes" {
			return family.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}

	Fail("read buffer histogram is not registered")
	return 0
}
