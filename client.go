package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/mil-ad/mobdevctl/internal/control"
)

func ipcCall(socket string, req IPCRequest) (IPCResponse, error) {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to daemon: %w (is `mobdevctl daemon` running?)", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

func clientSocket() (string, error) {
	cfg, err := loadConfig(configPath())
	if err != nil {
		return "", err
	}
	return cfg.Socket, nil
}

// runDispatch sends one command and prints the daemon's raw return value.
// A negative value is also reported as an error.
func runDispatch(cmd control.Command, args *control.Args) error {
	req := IPCRequest{Op: opDispatch, Command: uint32(cmd)}
	if args != nil {
		block, err := args.MarshalBinary()
		if err != nil {
			return err
		}
		req.Args = block
	}

	socket, err := clientSocket()
	if err != nil {
		return err
	}
	resp, err := ipcCall(socket, req)
	if err != nil {
		return err
	}
	fmt.Printf("mobdevctl returned: %d\n", resp.Status)
	if resp.Status < 0 {
		if resp.Error != "" {
			return fmt.Errorf("%s (%s)", resp.Error, control.StatusText(resp.Status))
		}
		return fmt.Errorf("%s", control.StatusText(resp.Status))
	}
	return nil
}

func runStatus() error {
	socket, err := clientSocket()
	if err != nil {
		return err
	}
	resp, err := ipcCall(socket, IPCRequest{Op: opStatus})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	return json.NewEncoder(os.Stdout).Encode(resp)
}
