// Command altilium-cli is a minimal line-oriented REPL for exercising
// a running Altilium server: it splits each line into arguments,
// sends them as a RESP command array, and prints the decoded reply.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/altilium/altilium/resp"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "server address")
	password := flag.String("a", "", "password for AUTH")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer conn.Close()

	if *password != "" {
		reply, err := send(conn, []string{"AUTH", *password})
		if err != nil {
			fmt.Fprintln(os.Stderr, "auth:", err)
			os.Exit(1)
		}
		printReply(reply)
	}

	fmt.Println("Commands: SET, GET, HSET, HGET, HDEL, DEL, KEYS, TYPE, EXPIRE, PEXPIRE, TTL, PTTL, PING, AUTH, EXIT")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		args := strings.Fields(line)
		if strings.EqualFold(args[0], "EXIT") {
			break
		}

		reply, err := send(conn, args)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return
		}
		printReply(reply)
	}
}

func send(conn net.Conn, args []string) (resp.Value, error) {
	bargs := make([][]byte, len(args))
	for i, a := range args {
		bargs[i] = []byte(a)
	}
	if _, err := conn.Write(resp.EncodeCommand(bargs...)); err != nil {
		return resp.Value{}, err
	}

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			v, _, status, decodeErr := resp.Decode(buf)
			if status == resp.StatusComplete {
				return v, nil
			}
			if status == resp.StatusMalformed {
				return resp.Value{}, decodeErr
			}
		}
		if err != nil {
			return resp.Value{}, err
		}
	}
}

func printReply(v resp.Value) {
	switch v.Type {
	case resp.TypeSimpleString:
		fmt.Println(v.Str)
	case resp.TypeError:
		fmt.Println("(error)", v.Str)
	case resp.TypeInteger:
		fmt.Println("(integer)", v.Int)
	case resp.TypeBulkString:
		if v.IsNull {
			fmt.Println("(nil)")
			return
		}
		fmt.Println(string(v.Bulk))
	case resp.TypeArray:
		if v.IsNull || len(v.Elems) == 0 {
			fmt.Println("(empty list or set)")
			return
		}
		for i, e := range v.Elems {
			fmt.Printf("%d) ", i+1)
			printReply(e)
		}
	}
}
