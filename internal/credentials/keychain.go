package credentials

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const (
	keychainService = "kickclip-credentials"
	keychainAccount = "kickclip"
)

// CommandRunner runs an external command with stdin and returns its stdout.
type CommandRunner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	return cmd.Output()
}

// KeychainStore keeps the credential as a generic password in the macOS
// login keychain via the security(1) tool. Writes go through `security -i`
// on stdin so the tokens never appear in the process list.
type KeychainStore struct {
	run CommandRunner
}

func NewKeychainStore() *KeychainStore {
	return &KeychainStore{run: execRunner}
}

// NewKeychainStoreWithRunner is used by tests to stub the security tool.
func NewKeychainStoreWithRunner(run CommandRunner) *KeychainStore {
	return &KeychainStore{run: run}
}

func (k *KeychainStore) Load(ctx context.Context) (*Credential, error) {
	output, err := k.run(ctx, nil, "security", "find-generic-password", "-s", keychainService, "-w")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// security exits non-zero when the item does not exist.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to retrieve password from Keychain: %w", err)
	}

	var c Credential
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(output))), &c); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from keychain: %w", err)
	}
	if c.AccessToken == "" {
		return nil, nil
	}
	return &c, nil
}

func (k *KeychainStore) Save(ctx context.Context, cred *Credential) error {
	if err := validate(cred); err != nil {
		return err
	}
	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	// -X takes the password as hex, which needs no quoting in interactive mode.
	line := fmt.Sprintf("add-generic-password -U -s %s -a %s -X %s\n",
		keychainService, keychainAccount, hex.EncodeToString(payload))
	if _, err := k.run(ctx, []byte(line), "security", "-i"); err != nil {
		return fmt.Errorf("failed to update keychain: %w", err)
	}
	return nil
}

func (k *KeychainStore) Clear(ctx context.Context) error {
	if _, err := k.run(ctx, nil, "security", "delete-generic-password", "-s", keychainService); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return fmt.Errorf("failed to delete keychain item: %w", err)
	}
	return nil
}
