package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/talentgrid/entitlements/internal/auth"
)

type output struct {
	KeyID string `json:"key_id"`
	Name  string `json:"name"`
	Key   string `json:"key"`
	Hash  string `json:"hash"`
}

// Generates a collaborator service key. The plaintext goes to the
// collaborator; the hash is appended to SERVICE_KEY_HASHES.
func main() {
	var (
		env    = flag.String("env", auth.EnvLive, "Key environment: live or test")
		name   = flag.String("name", "collaborator", "Label for the key owner")
		format = flag.String("format", "plain", "Output format: plain, json or env")
		verify = flag.String("verify", "", "Check a plaintext key against -hash instead of generating one")
		hash   = flag.String("hash", "", "Hash to verify against")
	)
	flag.Parse()

	if *verify != "" {
		ok, err := auth.VerifyKey(*verify, *hash)
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "key does not match hash")
			os.Exit(1)
		}
		fmt.Println("ok")
		return
	}

	if *env != auth.EnvLive && *env != auth.EnvTest {
		fmt.Fprintln(os.Stderr, "invalid env; use live or test")
		os.Exit(1)
	}

	generated, err := auth.GenerateServiceKey(*env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate service key:", err)
		os.Exit(1)
	}

	out := output{
		KeyID: ulid.Make().String(),
		Name:  *name,
		Key:   generated.Plaintext,
		Hash:  generated.Hash,
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Key)
		fmt.Println(out.Hash)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	case "env":
		fmt.Printf("# %s (%s)\n", out.Name, out.KeyID)
		fmt.Printf("SERVICE_KEY_HASHES='%s'\n", out.Hash)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain, json or env")
		os.Exit(1)
	}
}
