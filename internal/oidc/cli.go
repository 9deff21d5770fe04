// Package oidc reuses the identity of a locally installed, already
// authenticated Vercel CLI to mint short-lived AI gateway tokens.
//
// The CLI keeps its login in an auth.json file under the user's data
// directory. Only the "token" field of that file is read; the rest of its
// format belongs to the CLI.
package oidc

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrNotLoggedIn is returned when the CLI auth cache is missing, unreadable
// or carries no token.
var ErrNotLoggedIn = errors.New("vercel CLI not logged in: run `vercel login`")

// FileReader reads whole files. It lets tests substitute the filesystem.
type FileReader interface {
	ReadFile(name string) ([]byte, error)
}

type osFiles struct{}

func (osFiles) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

// OSFiles reads from the real filesystem.
var OSFiles FileReader = osFiles{}

// CLIAuthPath returns the location of the Vercel CLI auth cache for the
// current platform:
//   - Windows: %APPDATA%\com.vercel.cli\Data\auth.json
//   - macOS: ~/Library/Application Support/com.vercel.cli/auth.json
//   - Linux: $XDG_DATA_HOME/com.vercel.cli/auth.json (~/.local/share by default)
func CLIAuthPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return cliAuthPath(runtime.GOOS, os.Getenv, home)
}

func cliAuthPath(goos string, getenv func(string) string, home string) (string, error) {
	switch goos {
	case "windows":
		appData := getenv("APPDATA")
		if appData == "" {
			return "", errors.New("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "com.vercel.cli", "Data", "auth.json"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "com.vercel.cli", "auth.json"), nil
	default:
		dataHome := getenv("XDG_DATA_HOME")
		if dataHome == "" {
			dataHome = filepath.Join(home, ".local", "share")
		}
		return filepath.Join(dataHome, "com.vercel.cli", "auth.json"), nil
	}
}

// ReadCLIToken returns the CLI's cached identity token.
func ReadCLIToken(files FileReader, path string) (string, error) {
	fields, ok := readAuthFile(files, path)
	if !ok {
		return "", ErrNotLoggedIn
	}
	var token string
	if err := json.Unmarshal(fields["token"], &token); err != nil {
		return "", ErrNotLoggedIn
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNotLoggedIn
	}
	return token, nil
}

// CheckCLIAvailable reports whether the auth cache exists and parses to an
// object with a token field.
func CheckCLIAvailable(files FileReader, path string) bool {
	_, ok := readAuthFile(files, path)
	return ok
}

func readAuthFile(files FileReader, path string) (map[string]json.RawMessage, bool) {
	if path == "" {
		return nil, false
	}
	data, err := files.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, false
	}
	if _, ok := fields["token"]; !ok {
		return nil, false
	}
	return fields, true
}
