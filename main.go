package main

import (
	"flag"
	"fmt"
	"os"
)

const usage = `usage: streampad [-config path] <command> [args]

commands:
  daemon                      run the daemon
  status                      show transport, host and profile
  switch <bluetooth|usb|demo> change the connection mode
  send <chord>                press and release a key, e.g. ctrl+c
  press <slot>                press the key in a slot of the current profile
  hold <chord|slot>           press a key and keep repeating it
  release                     stop repeating
  keepalive <on|off>          periodic scroll lock tap
  stop                        unregister and go idle
  watch                       stream readiness changes
  profiles                    list profiles
  use <profile>               select the current profile
  import <profile> <file>     import a profile document
  export <profile> [file]     export a profile document
  delete <profile>            delete a profile
  rename <old> <new>          rename a profile
  stats [profile]             shortcut counts of a profile
  duplicate <src> <dst>       copy a profile, replacing dst
  merge <profile> <file>      append the shortcuts of a document to a profile
  clear                       delete every profile and recreate the default
`

func main() {
	fs := flag.NewFlagSet("streampad", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default $XDG_CONFIG_HOME/streampad/config.toml)")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) < 1 {
		fs.Usage()
		os.Exit(1)
	}
	need := func(n int) {
		if len(args) < n+1 {
			fmt.Fprintf(os.Stderr, "%s: missing argument\n\n", args[0])
			fs.Usage()
			os.Exit(1)
		}
	}

	if args[0] == "daemon" {
		if err := runDaemon(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	sock := clientSocket(*configPath)
	var err error
	switch args[0] {
	case cmdStatus, cmdRelease, cmdStop, cmdProfiles, cmdClear:
		err = runCall(sock, IPCRequest{Command: args[0]})
	case cmdSwitch:
		need(1)
		err = runCall(sock, IPCRequest{Command: cmdSwitch, Mode: args[1]})
	case cmdSend:
		need(1)
		err = runCall(sock, IPCRequest{Command: cmdSend, Chord: args[1]})
	case cmdPress, cmdHold:
		need(1)
		err = runCall(sock, keyRequest(args[0], args[1]))
	case cmdKeepAlive:
		need(1)
		err = runKeepAlive(sock, args[1])
	case cmdWatch:
		err = runWatch(sock)
	case cmdUse, cmdDelete:
		need(1)
		err = runCall(sock, IPCRequest{Command: args[0], Profile: args[1]})
	case cmdImport, cmdMerge:
		need(2)
		err = runDocument(sock, args[0], args[1], args[2])
	case cmdExport:
		need(1)
		file := ""
		if len(args) > 2 {
			file = args[2]
		}
		err = runExport(sock, args[1], file)
	case cmdRename, cmdDuplicate:
		need(2)
		err = runCall(sock, IPCRequest{Command: args[0], Profile: args[1], NewName: args[2]})
	case cmdStats:
		req := IPCRequest{Command: cmdStats}
		if len(args) > 1 {
			req.Profile = args[1]
		}
		err = runCall(sock, req)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
