package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
)

func ipcCall(sock string, req IPCRequest) (IPCResponse, error) {
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to daemon: %w (is `streampad daemon` running?)", err)
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

// runCall sends req and prints the response as JSON.
func runCall(sock string, req IPCRequest) error {
	resp, err := ipcCall(sock, req)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	return json.NewEncoder(os.Stdout).Encode(resp)
}

// keyRequest builds a send/hold request from either a slot number or a
// chord.
func keyRequest(cmd, arg string) IPCRequest {
	if n, err := strconv.Atoi(arg); err == nil {
		return IPCRequest{Command: cmd, Slot: &n}
	}
	return IPCRequest{Command: cmd, Chord: arg}
}

func runKeepAlive(sock, arg string) error {
	on, err := parseOnOff(arg)
	if err != nil {
		return err
	}
	return runCall(sock, IPCRequest{Command: cmdKeepAlive, Enabled: &on})
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

// runDocument sends the profile document in file with an import or merge
// request.
func runDocument(sock, cmd, name, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	return runCall(sock, IPCRequest{Command: cmd, Profile: name, Data: data})
}

// runExport writes the profile document to file, or stdout when file is
// empty.
func runExport(sock, name, file string) error {
	resp, err := ipcCall(sock, IPCRequest{Command: cmdExport, Profile: name})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	if file == "" {
		_, err := os.Stdout.Write(append(resp.Data, '\n'))
		return err
	}
	return os.WriteFile(file, resp.Data, 0o600)
}

// runWatch prints one JSON line per readiness change until the daemon
// closes the connection.
func runWatch(sock string) error {
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w (is `streampad daemon` running?)", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(IPCRequest{Command: cmdWatch}); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		fmt.Println(sc.Text())
	}
	return sc.Err()
}
