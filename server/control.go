package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ServeControl answers management commands on listener, one per connection:
//
//	stats | users | active | history[|name] | msgstats
//	adduser|name|password | deluser|name | shutdown
//
// Replies are a single line, OK|... or ERROR|...
func (s *Server) ServeControl(listener net.Listener) {
	go func() {
		<-s.quit
		listener.Close()
	}()

	s.log.Infof("Control socket listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		go s.handleControlCommand(conn)
	}
}

func (s *Server) handleControlCommand(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return
	}

	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, "|", 3)
	cmd := parts[0]
	arg := func(i int) string {
		if len(parts) > i {
			return parts[i]
		}
		return ""
	}

	write := func(status, body string) {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		conn.Write([]byte(status + "|" + body + "\n"))
	}
	fail := func(err error) { write("ERROR", err.Error()) }

	switch cmd {
	case "stats":
		write("OK", s.GetStats())

	case "users":
		users, err := s.Users()
		if err != nil {
			fail(err)
			return
		}
		items := make([]string, 0, len(users))
		for _, u := range users {
			items = append(items, u.Name+"="+u.LastLogin.Format(time.RFC3339))
		}
		write("OK", strings.Join(items, ";"))

	case "active":
		sessions, err := s.ActiveSessions()
		if err != nil {
			fail(err)
			return
		}
		items := make([]string, 0, len(sessions))
		for _, a := range sessions {
			items = append(items, fmt.Sprintf("%s=%s:%d@%s", a.User, a.IPAddress, a.Port, a.LoginTime.Format(time.RFC3339)))
		}
		write("OK", strings.Join(items, ";"))

	case "history":
		records, err := s.LoginHistory(arg(1))
		if err != nil {
			fail(err)
			return
		}
		items := make([]string, 0, len(records))
		for _, r := range records {
			items = append(items, fmt.Sprintf("%s=%s:%d@%s", r.User, r.IP, r.Port, r.DateTime.Format(time.RFC3339)))
		}
		write("OK", strings.Join(items, ";"))

	case "msgstats":
		stats, err := s.MessageStats()
		if err != nil {
			fail(err)
			return
		}
		items := make([]string, 0, len(stats))
		for _, st := range stats {
			items = append(items, st.User+"="+strconv.FormatInt(st.Sent, 10)+"/"+strconv.FormatInt(st.Accepted, 10))
		}
		write("OK", strings.Join(items, ";"))

	case "adduser":
		name, password := arg(1), arg(2)
		if name == "" || password == "" {
			write("ERROR", "usage: adduser|name|password")
			return
		}
		if err := s.AddUser(name, password); err != nil {
			fail(err)
			return
		}
		write("OK", "added "+name)

	case "deluser":
		name := arg(1)
		if name == "" {
			write("ERROR", "usage: deluser|name")
			return
		}
		if err := s.RemoveUser(name); err != nil {
			fail(err)
			return
		}
		write("OK", "removed "+name)

	case "shutdown":
		write("OK", "Shutting down")
		conn.Close()
		s.log.Infof("Shutdown requested over control socket")
		go s.Stop()

	default:
		write("ERROR", "Unknown command")
	}
}
