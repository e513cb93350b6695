package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nugget/hearth/internal/app"
)

// passphraseEnv supplies the vault passphrase without a prompt.
const passphraseEnv = "HEARTH_PASSPHRASE"

// prompter reads answers one line at a time from stdin, printing the
// question to stderr so piped stdout stays clean.
type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func newPrompter(stdin io.Reader, stderr io.Writer) *prompter {
	return &prompter{in: bufio.NewScanner(stdin), out: stderr}
}

func (p *prompter) line(question string) (string, error) {
	fmt.Fprint(p.out, question)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimSpace(p.in.Text()), nil
}

func (p *prompter) passphrase() (string, error) {
	if pass := os.Getenv(passphraseEnv); pass != "" {
		return pass, nil
	}
	return p.line("Vault passphrase: ")
}

// unlockIfNeeded unlocks an initialized vault so encrypted credentials
// can be read.
func unlockIfNeeded(ac *app.AgentContext, p *prompter) error {
	st, err := ac.VaultStatus()
	if err != nil {
		return err
	}
	if !st.Initialized || st.Unlocked {
		return nil
	}
	pass, err := p.passphrase()
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}
	return ac.UnlockVault(pass)
}

// runVault handles "hearth vault init" and "hearth vault status".
func runVault(stdin io.Reader, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	ac, _, err := openAgent(stderr, configPath)
	if err != nil {
		return err
	}
	defer ac.Close()

	switch args[0] {
	case "init":
		p := newPrompter(stdin, stderr)
		pass, err := p.passphrase()
		if err != nil {
			return fmt.Errorf("read passphrase: %w", err)
		}
		if os.Getenv(passphraseEnv) == "" {
			again, err := p.line("Repeat passphrase: ")
			if err != nil {
				return fmt.Errorf("read passphrase: %w", err)
			}
			if again != pass {
				return errors.New("passphrases do not match")
			}
		}
		if err := ac.InitVault(pass); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Vault initialized. Credentials saved from now on are encrypted.")
		return nil

	case "status":
		st, err := ac.VaultStatus()
		if err != nil {
			return err
		}
		creds, err := ac.CredentialStates()
		if err != nil {
			return err
		}
		if outputFmt == "json" {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"vault": st, "credentials": creds})
		}
		fmt.Fprintf(stdout, "initialized:       %t\n", st.Initialized)
		fmt.Fprintf(stdout, "unencrypted mode:  %t\n", st.UnencryptedMode)
		for _, name := range []string{"openai", "anthropic", "xai", "zai", "ollama", app.TelegramKey} {
			fmt.Fprintf(stdout, "  %-10s %s\n", name, creds[name])
		}
		return nil

	default:
		return fmt.Errorf("unknown vault command: %s (expected init or status)", args[0])
	}
}

// runKeySet stores one credential. The value is the first line of
// stdin; the passphrase follows it unless HEARTH_PASSPHRASE is set.
func runKeySet(stdin io.Reader, stdout, stderr io.Writer, configPath, name string) error {
	ac, _, err := openAgent(stderr, configPath)
	if err != nil {
		return err
	}
	defer ac.Close()

	p := newPrompter(stdin, stderr)
	value, err := p.line(fmt.Sprintf("%s credential: ", name))
	if err != nil {
		return fmt.Errorf("read credential: %w", err)
	}
	if err := unlockIfNeeded(ac, p); err != nil {
		return err
	}
	if err := ac.SaveCredential(name, value); err != nil {
		return err
	}
	states, err := ac.CredentialStates()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Saved %s credential (%s).\n", strings.ToLower(name), states[strings.ToLower(name)])
	return nil
}
