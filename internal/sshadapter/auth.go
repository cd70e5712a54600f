package sshadapter

import (
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/ssh-bridge/internal/protocol"
)

// challengeFunc drives a keyboard-interactive exchange: it reports the
// prompt to the observer and blocks until RespondToChallenge answers it.
type challengeFunc func(title, instructions string, prompts []string) ([]string, error)

// buildAuthMethods translates CONNECT parameters into SSH auth methods, in
// the order the server should be offered them: publickey, then password,
// then keyboard-interactive (only when explicitly requested).
func buildAuthMethods(params protocol.ConnectParams, challenge challengeFunc) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if len(params.PrivateKey) > 0 {
		signer, err := parsePrivateKey(params.PrivateKey, params.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if params.Password != "" {
		methods = append(methods, ssh.Password(params.Password))
	}

	if params.TryKeyboard {
		methods = append(methods, ssh.KeyboardInteractiveChallenge(
			func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				return challenge(name, instruction, questions)
			},
		))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication methods available")
	}
	return methods, nil
}

func parsePrivateKey(key []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(key)
}

// ValidatePrivateKey reports whether key/passphrase parse into a usable
// signer, without performing any network I/O. The pool uses this to decide
// whether to drop an unparseable key and fall back to another supplied
// credential before ever dialing.
func ValidatePrivateKey(key []byte, passphrase string) error {
	_, err := parsePrivateKey(key, passphrase)
	return err
}
