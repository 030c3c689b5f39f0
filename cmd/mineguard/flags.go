package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags selects the daemon a remote command talks to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	// CACert pins the daemon certificate, e.g. the generated tls_ca.crt.
	CACert   string
	Insecure bool
}

// CreateFlags Flag structs to decouple cobra from logic for testing.
type CreateFlags struct {
	ConfigPath  string
	Version     string
	Type        string
	Name        string
	AcceptEULA  bool
	ManifestURL string
}

type ListFlags struct {
	ConfigPath string
}

type EULAFlags struct {
	ConfigPath string
	Name       string
}

type ServeFlags struct {
	ConfigPath string
	// Autostart lists servers to start once the daemon is up.
	Autostart []string
}

type LifecycleFlags struct {
	Name string
	Wait time.Duration
	APIFlags
}

type SendFlags struct {
	Name    string
	Command string
	APIFlags
}

type HistoryFlags struct {
	ConfigPath string
	Name       string
	Limit      int
	// Remote reads through the daemon instead of opening the DSN directly.
	Remote bool
	APIFlags
}
