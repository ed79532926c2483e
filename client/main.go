package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/peterh/liner"
)

const defaultAddr = "127.0.0.1:7878"

type client struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(addr string) (*client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// send writes one command line and reads the one-line response.
func (c *client) send(command string) (string, error) {
	if _, err := fmt.Fprintf(c.conn, "%s\n", command); err != nil {
		return "", err
	}
	response, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(response, "\n"), nil
}

func main() {
	addr := flag.String("addr", defaultAddr, "server address")
	flag.Parse()

	fmt.Printf("Connecting to database server at %s...\n", *addr)
	c, err := dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		os.Exit(1)
	}
	defer c.conn.Close()
	fmt.Println("Connected successfully!")
	fmt.Println("Enter commands (type 'help' for usage, 'quit' to exit):")

	prompt := liner.NewLiner()
	defer prompt.Close()
	prompt.SetCtrlCAborts(true)

	for {
		input, err := prompt.Prompt("> ")
		if err != nil {
			if err == liner.ErrPromptAborted {
				fmt.Println("Goodbye!")
			}
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		prompt.AppendHistory(input)

		switch strings.ToLower(input) {
		case "quit", "exit":
			fmt.Println("Goodbye!")
			return
		case "help":
			printHelp()
			continue
		}

		response, err := c.send(input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Println(response)
	}
}

func printHelp() {
	fmt.Println("Available commands:")
	fmt.Println("  SET <key> <value>  - Set a key-value pair")
	fmt.Println("  GET <key>          - Get the value for a key")
	fmt.Println("  DELETE <key>       - Delete a key-value pair")
	fmt.Println("  COMPACT            - Trigger log compaction")
	fmt.Println("  quit/exit          - Exit the client")
}
