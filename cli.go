package main

import (
	"fmt"
	"os"

	"hybrid/server/internal/config"
	"hybrid/server/internal/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string, cfg *config.Config) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("hybrid server %s\n", Version)
		return true
	case "status":
		return cliStatus(cfg)
	case "channels":
		return cliChannels(args[1:], cfg.DBPath)
	case "users":
		return cliUsers(args[1:], cfg.DBPath)
	case "backup":
		return cliBackup(args[1:], cfg.DBPath)
	default:
		return false
	}
}

func openStoreOrDie(dbPath string) *store.Store {
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	return st
}

func cliStatus(cfg *config.Config) bool {
	st := openStoreOrDie(cfg.DBPath)
	defer st.Close()

	name, ok, _ := st.GetSetting("server_name")
	if !ok {
		name = cfg.ServerName
	}
	nChannels, _ := st.ChannelCount()
	nUsers, _ := st.UserCount()
	fmt.Printf("Server: %s\n", name)
	fmt.Printf("Database: %s\n", cfg.DBPath)
	fmt.Printf("Channels: %d\n", nChannels)
	fmt.Printf("Users: %d\n", nUsers)
	fmt.Printf("Version: %s\n", Version)
	return true
}

func cliChannels(args []string, dbPath string) bool {
	st := openStoreOrDie(dbPath)
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		chs, err := st.GetChannels()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(chs) == 0 {
			fmt.Println("No channels found.")
			return true
		}
		for _, ch := range chs {
			marker := ""
			if ch.Permanent {
				marker = " (permanent)"
			}
			fmt.Printf("  [%d] %s%s\n", ch.ID, ch.Name, marker)
		}
		return true
	}

	if args[0] == "create" && len(args) > 1 {
		name := args[1]
		id, err := st.CreateChannel(name, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error creating channel: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created channel %q (id=%d)\n", name, id)
		return true
	}

	if args[0] == "delete" && len(args) > 1 {
		if err := st.DeleteChannel(args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting channel: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted channel %q\n", args[1])
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server channels [list|create <name>|delete <name>]\n")
	os.Exit(1)
	return true
}

func cliUsers(args []string, dbPath string) bool {
	st := openStoreOrDie(dbPath)
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		names, err := st.Usernames()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(names) == 0 {
			fmt.Println("No users registered.")
			return true
		}
		for _, name := range names {
			fmt.Printf("  %s\n", name)
		}
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: server users [list]\n")
	os.Exit(1)
	return true
}

func cliBackup(args []string, dbPath string) bool {
	st := openStoreOrDie(dbPath)
	defer st.Close()

	outPath := "hybrid-backup.db"
	if len(args) > 0 {
		outPath = args[0]
	}

	if err := st.Backup(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database backed up to %s\n", outPath)
	return true
}
