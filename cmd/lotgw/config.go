package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// tomlConfig describes the gateway daemon's TOML configuration file.
type tomlConfig struct {
	Logging logConf
	Link    linkConf
	Session sessionConf
	Spool   spoolConf
	Admin   adminConf
}

// logConf describes the Logging configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// linkConf describes how the gateway connects to its single peer.
type linkConf struct {
	// Protocol is "tcp" or "ws".
	Protocol string
	// Mode is "dial" (this process connects out) or "listen" (this process
	// accepts a single inbound connection).
	Mode    string
	Address string
	MTU     int
}

// sessionConf describes the windowed-transfer parameters applied to every
// send session this gateway originates.
type sessionConf struct {
	WindowSize     int `toml:"window-size"`
	TimeoutMs      int `toml:"timeout-ms"`
	MaxRetransmits int `toml:"max-retransmits"`
	ExpiryMs       int `toml:"expiry-ms"`
}

// spoolConf describes the filesystem directories this gateway watches and
// writes to.
type spoolConf struct {
	InDir  string `toml:"in-dir"`
	OutDir string `toml:"out-dir"`
}

// adminConf describes the read-only admin HTTP surface.
type adminConf struct {
	Listen string
}

// loadConfig reads and validates the TOML configuration at filename.
func loadConfig(filename string) (*tomlConfig, error) {
	var conf tomlConfig
	if _, err := toml.DecodeFile(filename, &conf); err != nil {
		return nil, err
	}

	if conf.Link.Protocol != "tcp" && conf.Link.Protocol != "ws" {
		return nil, fmt.Errorf("link.protocol must be \"tcp\" or \"ws\", got %q", conf.Link.Protocol)
	}
	if conf.Link.Mode != "dial" && conf.Link.Mode != "listen" {
		return nil, fmt.Errorf("link.mode must be \"dial\" or \"listen\", got %q", conf.Link.Mode)
	}
	if conf.Link.Address == "" {
		return nil, fmt.Errorf("link.address is empty")
	}
	if conf.Link.MTU == 0 {
		conf.Link.MTU = 512
	}
	if conf.Spool.InDir == "" || conf.Spool.OutDir == "" {
		return nil, fmt.Errorf("spool.in-dir and spool.out-dir must both be set")
	}

	if conf.Session.WindowSize == 0 {
		conf.Session.WindowSize = 8
	}
	if conf.Session.TimeoutMs == 0 {
		conf.Session.TimeoutMs = 2000
	}
	if conf.Session.MaxRetransmits == 0 {
		conf.Session.MaxRetransmits = 5
	}
	if conf.Session.ExpiryMs == 0 {
		conf.Session.ExpiryMs = 60000
	}

	return &conf, nil
}

func (c sessionConf) timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c sessionConf) expiry() time.Duration {
	return time.Duration(c.ExpiryMs) * time.Millisecond
}
