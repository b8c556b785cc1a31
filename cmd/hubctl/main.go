// Gray Logic Hub client
//
// hubctl is the interactive device-side client for the hub: it runs the
// three-stage authentication sequence, then reads commands from stdin,
// formats them as protocol messages, and prints or saves the responses.
//
// Usage:
//
//	hubctl -server 127.0.0.1:12345 -user alice -device sensor1 -out ./out
//
// Commands:
//
//	CREATE <domain>        create a domain owned by the current user
//	ADD <user> <domain>    add a user to an owned domain
//	RD <domain>            register this device into a domain
//	ET <value>             report a temperature
//	EI <path>              upload an image file
//	RT <domain>            fetch the domain temperature map (saved to out dir)
//	RI <user>:<device>     fetch a device image (saved to out dir)
//	RH <user>:<device> [n] fetch recent temperature history
//	EXIT                   go offline and quit
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-hub/internal/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		server = flag.String("server", "127.0.0.1:12345", "hub address host:port")
		user   = flag.String("user", "", "user id")
		device = flag.String("device", "", "device id")
		outDir = flag.String("out", "out", "directory for retrieved data")
	)
	flag.Parse()

	if *user == "" || *device == "" {
		return fmt.Errorf("-user and -device are required")
	}
	if err := os.MkdirAll(*outDir, 0o750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	conn, err := net.Dial("tcp", *server)
	if err != nil {
		return fmt.Errorf("connecting to hub: %w", err)
	}
	defer conn.Close()

	stdin := bufio.NewScanner(os.Stdin)

	if err := authenticate(conn, stdin, *user, *device); err != nil {
		return err
	}
	fmt.Println("authenticated, device online")

	return commandLoop(conn, stdin, *outDir)
}

// authenticate runs the three-stage sequence: credential loop, device-claim
// loop, then single-shot attestation with this executable's name and size.
func authenticate(conn net.Conn, stdin *bufio.Scanner, user, device string) error {
	// Credential stage: retry until the secret is accepted.
	for {
		fmt.Print("secret: ")
		if !stdin.Scan() {
			return fmt.Errorf("stdin closed")
		}
		resp, err := roundTrip(conn, protocol.Message{User: user, Secret: strings.TrimSpace(stdin.Text())})
		if err != nil {
			return err
		}
		if resp.Code == protocol.CodeNewUserOK || resp.Code == protocol.CodeUserOK {
			fmt.Println(resp.Code)
			break
		}
		fmt.Println(resp.Code)
	}

	// Device-claim stage: retry with a different id while taken.
	for {
		resp, err := roundTrip(conn, protocol.Message{DeviceID: device})
		if err != nil {
			return err
		}
		fmt.Println(resp.Code)
		if resp.Code == protocol.CodeDeviceIDOK {
			break
		}
		fmt.Print("device id: ")
		if !stdin.Scan() {
			return fmt.Errorf("stdin closed")
		}
		device = strings.TrimSpace(stdin.Text())
	}

	// Attestation stage: declare this executable's name and size.
	name, size, err := executableDescriptor()
	if err != nil {
		return fmt.Errorf("reading executable descriptor: %w", err)
	}
	resp, err := roundTrip(conn, protocol.Message{Name: name, Size: size})
	if err != nil {
		return err
	}
	fmt.Println(resp.Code)
	if resp.Code != protocol.CodeAttestationOK {
		return fmt.Errorf("attestation rejected")
	}
	return nil
}

func executableDescriptor() (string, int64, error) {
	path, err := os.Executable()
	if err != nil {
		return "", 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}
	return filepath.Base(path), info.Size(), nil
}

func commandLoop(conn net.Conn, stdin *bufio.Scanner, outDir string) error {
	fmt.Print("> ")
	for stdin.Scan() {
		fields := strings.Fields(stdin.Text())
		if len(fields) == 0 {
			fmt.Print("> ")
			continue
		}

		msg, save, err := buildCommand(fields)
		if err != nil {
			fmt.Println(err)
			fmt.Print("> ")
			continue
		}

		resp, err := roundTrip(conn, msg)
		if err != nil {
			return fmt.Errorf("hub connection lost: %w", err)
		}
		fmt.Println(resp.Code)

		if resp.Code == protocol.CodeOK && save != "" {
			if err := saveResponse(outDir, save, fields, resp); err != nil {
				fmt.Println(err)
			}
		}

		if msg.Command == protocol.CmdExit {
			return nil
		}
		fmt.Print("> ")
	}
	return nil
}

// buildCommand turns an input line into a protocol message. The second
// return names the save kind ("temps", "image", "history") for commands
// whose response carries data to keep.
func buildCommand(fields []string) (protocol.Message, string, error) {
	cmd := strings.ToUpper(fields[0])
	switch cmd {
	case protocol.CmdCreate, protocol.CmdRD, protocol.CmdRT:
		if len(fields) != 2 {
			return protocol.Message{}, "", fmt.Errorf("usage: %s <domain>", cmd)
		}
		save := ""
		if cmd == protocol.CmdRT {
			save = "temps"
		}
		return protocol.Message{Command: cmd, Domain: fields[1]}, save, nil

	case protocol.CmdAdd:
		if len(fields) != 3 {
			return protocol.Message{}, "", fmt.Errorf("usage: ADD <user> <domain>")
		}
		return protocol.Message{Command: cmd, User: fields[1], Domain: fields[2]}, "", nil

	case protocol.CmdET:
		if len(fields) != 2 {
			return protocol.Message{}, "", fmt.Errorf("usage: ET <value>")
		}
		return protocol.Message{Command: cmd, Temperature: fields[1]}, "", nil

	case protocol.CmdEI:
		if len(fields) != 2 {
			return protocol.Message{}, "", fmt.Errorf("usage: EI <path>")
		}
		data, err := os.ReadFile(fields[1])
		if err != nil {
			return protocol.Message{}, "", fmt.Errorf("reading image: %w", err)
		}
		return protocol.Message{Command: cmd, Data: data, Size: int64(len(data))}, "", nil

	case protocol.CmdRI, protocol.CmdRH:
		if len(fields) < 2 {
			return protocol.Message{}, "", fmt.Errorf("usage: %s <user>:<device>", cmd)
		}
		owner, dev, ok := strings.Cut(fields[1], ":")
		if !ok {
			return protocol.Message{}, "", fmt.Errorf("device must be <user>:<device>")
		}
		msg := protocol.Message{Command: cmd, User: owner, DeviceID: dev}
		save := "image"
		if cmd == protocol.CmdRH {
			save = "history"
			if len(fields) == 3 {
				n, err := strconv.Atoi(fields[2])
				if err != nil {
					return protocol.Message{}, "", fmt.Errorf("invalid count %q", fields[2])
				}
				msg.Size = int64(n)
			}
		}
		return msg, save, nil

	case protocol.CmdExit:
		return protocol.Message{Command: protocol.CmdExit}, "", nil

	default:
		// Send it anyway; the hub answers unknown commands with an
		// error code without closing the connection.
		return protocol.Message{Command: cmd}, "", nil
	}
}

// saveResponse writes retrieved data into the output directory.
func saveResponse(outDir, kind string, fields []string, resp protocol.Message) error {
	switch kind {
	case "temps":
		var temps map[string]float64
		if err := json.Unmarshal(resp.Data, &temps); err != nil {
			return fmt.Errorf("decoding temperatures: %w", err)
		}
		ids := make([]string, 0, len(temps))
		for id := range temps {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		var sb strings.Builder
		for _, id := range ids {
			fmt.Fprintf(&sb, "%s - %g\n", id, temps[id])
		}
		path := filepath.Join(outDir, fields[1]+".txt")
		if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
			return fmt.Errorf("writing temperatures: %w", err)
		}
		fmt.Println("saved", path)

	case "image":
		path := filepath.Join(outDir, strings.ReplaceAll(fields[1], ":", "_")+".jpg")
		if err := os.WriteFile(path, resp.Data, 0o600); err != nil {
			return fmt.Errorf("writing image: %w", err)
		}
		fmt.Println("saved", path)

	case "history":
		fmt.Println(string(resp.Data))
	}
	return nil
}

func roundTrip(conn net.Conn, msg protocol.Message) (protocol.Message, error) {
	if err := protocol.Write(conn, msg); err != nil {
		return protocol.Message{}, err
	}
	return protocol.Read(conn)
}
