package server

import (
	"bufio"
	"errors"
	"io"
	"net"

	"github.com/loganszeto/respkv/internal/protocol"
)

// handleConn serves one client. Replies are buffered while the client has
// pipelined requests waiting and flushed once the input is drained.
func (s *Server) handleConn(c net.Conn) {
	defer c.Close()
	br := bufio.NewReader(c)
	reader := protocol.NewReader(br)
	writer := bufio.NewWriter(c)
	remote := c.RemoteAddr().String()

	for {
		req, err := reader.ReadValue()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("bad request, closing connection", "remote", remote, "err", err)
			_ = protocol.WriteValue(writer, protocol.Error("ERR "+err.Error()))
			_ = writer.Flush()
			return
		}

		if err := protocol.WriteValue(writer, s.exec.Execute(req)); err != nil {
			s.logger.Debug("write reply failed", "remote", remote, "err", err)
			return
		}
		if br.Buffered() == 0 {
			if err := writer.Flush(); err != nil {
				return
			}
		}
	}
}
