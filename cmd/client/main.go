// Interactive gateway client for poking at a running server: dials the
// gateway, identifies with a token and prints every event it receives.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/Xminent/shiki-server/pkg/gateway"
)

func main() {
	serverAddr := flag.String("server", "ws://localhost:8080/gateway", "Gateway URL")
	token := flag.String("token", "", "Bearer token obtained from /auth/login")
	flag.Parse()

	if *token == "" {
		log.Fatal("Token is required. Use -token flag")
	}

	conn, _, _, err := ws.DefaultDialer.Dial(context.Background(), *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", *serverAddr)

	if err := identify(conn, *token); err != nil {
		log.Fatalf("Failed to send identify: %v", err)
	}

	go readLoop(conn)

	fmt.Println("Listening for events (type 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "quit" || text == "exit" {
			break
		}
	}
}

func identify(conn net.Conn, token string) error {
	payload, err := json.Marshal(gateway.Identify{Token: token})
	if err != nil {
		return err
	}
	frame, err := json.Marshal(gateway.Envelope{Op: gateway.OpcodeIdentify, D: payload})
	if err != nil {
		return err
	}
	return wsutil.WriteClientText(conn, frame)
}

func readLoop(conn net.Conn) {
	for {
		msgs, err := wsutil.ReadServerMessage(conn, nil)
		if err != nil {
			log.Printf("Connection closed: %v", err)
			os.Exit(0)
		}

		for _, msg := range msgs {
			switch msg.OpCode {
			case ws.OpPing:
				if err := wsutil.WriteClientMessage(conn, ws.OpPong, msg.Payload); err != nil {
					log.Printf("Failed to answer ping: %v", err)
				}
			case ws.OpText:
				printFrame(msg.Payload)
			case ws.OpClose:
				log.Println("Server closed the connection")
				os.Exit(0)
			}
		}
	}
}

// printFrame renders either an {op, d} envelope or a bare text notice.
func printFrame(data []byte) {
	var env gateway.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		fmt.Printf("*** %s ***\n", data)
		return
	}

	switch env.Op {
	case gateway.OpcodeReady:
		var ready gateway.Ready
		if err := json.Unmarshal(env.D, &ready); err == nil {
			fmt.Printf("READY as %s: %d channels, %d users\n",
				ready.User.Username, len(ready.Channels), len(ready.Users))
			return
		}
	case gateway.OpcodeMessageCreate:
		var mc gateway.MessageCreate
		if err := json.Unmarshal(env.D, &mc); err == nil {
			fmt.Printf("[#%d] %s: %s\n", mc.ChannelID, mc.Author.Username, mc.Content)
			return
		}
	case gateway.OpcodeChannelCreate:
		var cc gateway.ChannelCreate
		if err := json.Unmarshal(env.D, &cc); err == nil {
			fmt.Printf("*** channel %q created (%d) ***\n", cc.Name, cc.ID)
			return
		}
	case gateway.OpcodeCustom:
		var text string
		if err := json.Unmarshal(env.D, &text); err == nil {
			fmt.Printf("(system) %q\n", text)
			return
		}
	}

	fmt.Printf("op %s: %s\n", env.Op, env.D)
}
