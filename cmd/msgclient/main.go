// Command msgclient is a line-oriented console client for the message server.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"msgserver/client"
	"msgserver/protocol"
	"os"
	"strings"
	"time"
)

const help = `Commands:
  /to <user> <text>   send a message
  /contacts           list contacts
  /add <user>         add a contact
  /del <user>         remove a contact
  /users              list registered users
  /key <user>         show a user's public key
  /quit               log out`

func main() {
	addr := flag.String("addr", "127.0.0.1:7777", "server address")
	name := flag.String("name", "", "account name")
	password := flag.String("password", "", "account password")
	pubkey := flag.String("pubkey", "", "public key to publish")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: msgclient -name <account> -password <password> [-addr host:port]")
		os.Exit(2)
	}

	c, err := client.Dial(*addr, 10*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	if err := c.Login(*name, *password, *pubkey); err != nil {
		c.Close()
		fmt.Fprintf(os.Stderr, "Login failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Logged in as %s\n%s\n", *name, help)

	// Reads run without a deadline once the session is up.
	c.SetTimeout(0)
	go receive(c)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, quit, err := parseCommand(*name, line)
		if err != nil {
			fmt.Println(err)
			continue
		}
		if quit {
			break
		}
		if err := c.Send(msg); err != nil {
			fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
			os.Exit(1)
		}
	}

	c.Exit()
}

func parseCommand(self, line string) (protocol.Message, bool, error) {
	fields := strings.SplitN(line, " ", 3)
	arg := func(i int) string {
		if len(fields) > i {
			return fields[i]
		}
		return ""
	}

	switch fields[0] {
	case "/to":
		if arg(1) == "" || arg(2) == "" {
			return nil, false, fmt.Errorf("usage: /to <user> <text>")
		}
		return &protocol.Chat{From: self, To: arg(1), Time: now(), Text: arg(2)}, false, nil
	case "/contacts":
		return &protocol.GetContacts{User: self}, false, nil
	case "/add", "/del", "/key":
		if arg(1) == "" {
			return nil, false, fmt.Errorf("usage: %s <user>", fields[0])
		}
		switch fields[0] {
		case "/add":
			return &protocol.AddContact{User: self, AccountName: arg(1)}, false, nil
		case "/del":
			return &protocol.RemoveContact{User: self, AccountName: arg(1)}, false, nil
		default:
			return &protocol.PublicKeyRequest{AccountName: arg(1)}, false, nil
		}
	case "/users":
		return &protocol.UsersRequest{AccountName: self}, false, nil
	case "/quit":
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("%s", help)
	}
}

func receive(c *client.Client) {
	for {
		msg, err := c.Receive()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Connection closed: %v\n", err)
			os.Exit(0)
		}
		fmt.Println(format(msg))
	}
}

func format(msg protocol.Message) string {
	switch m := msg.(type) {
	case *protocol.Chat:
		return fmt.Sprintf("[%s] %s: %s", time.Unix(int64(m.Time), 0).Format("15:04:05"), m.From, m.Text)
	case *protocol.Response:
		switch m.Code {
		case protocol.CodeOK:
			return "ok"
		case protocol.CodeAccepted:
			if len(m.ListInfo) == 0 {
				return "(empty)"
			}
			return strings.Join(m.ListInfo, "\n")
		case protocol.CodeUpdate:
			return "* user list changed"
		case protocol.CodeAuthRequired:
			return m.Data
		default:
			return fmt.Sprintf("error %d: %s", m.Code, m.Error)
		}
	default:
		return fmt.Sprintf("%v", msg)
	}
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
