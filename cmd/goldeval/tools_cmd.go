package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/silsilat/gold-evaluator/pkg/artifacts"
	"github.com/silsilat/gold-evaluator/pkg/config"
	"github.com/silsilat/gold-evaluator/pkg/kms"
	"github.com/silsilat/gold-evaluator/pkg/policy"
	"github.com/silsilat/gold-evaluator/pkg/topic"
)

const toolTimeout = 2 * time.Minute

// commonFlags registers --config and --key on cmd.
func commonFlags(cmd *pflag.FlagSet) (profile, key *string) {
	profile = cmd.StringP("config", "c", "", "YAML profile overriding the environment")
	key = cmd.StringP("key", "k", "", "Shared passphrase (default IPFS_ENCRYPTION_KEY)")
	return profile, key
}

func passphrase(flagValue string, cfg *config.Config) string {
	if flagValue != "" {
		return flagValue
	}
	return cfg.EncryptionKey
}

// runClassifyCmd implements `goldeval classify <base64>`.
func runClassifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := pflag.NewFlagSet("classify", pflag.ContinueOnError)
	cmd.SetOutput(stderr)
	profile, key := commonFlags(cmd)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: goldeval classify [flags] <base64-message>")
		return 2
	}

	cfg, err := loadConfig(*profile, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	var cl closers
	defer cl.Close()
	resolver, err := newResolver(cfg, &cl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()
	msg := topic.NewClassifier(resolver).Classify(ctx, cmd.Arg(0), passphrase(*key, cfg))
	writeJSON(stdout, msg, false)
	if msg.IsError() {
		return 1
	}
	return 0
}

type resolveResult struct {
	Kind      artifacts.ValueKind `json:"kind"`
	Content   any                 `json:"content"`
	Chain     []string            `json:"chain"`
	Encrypted bool                `json:"encrypted"`
}

// runResolveCmd implements `goldeval resolve <ref>`.
func runResolveCmd(args []string, stdout, stderr io.Writer) int {
	cmd := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
	cmd.SetOutput(stderr)
	profile, key := commonFlags(cmd)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: goldeval resolve [flags] <ipfs-ref>")
		return 2
	}

	cfg, err := loadConfig(*profile, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	var cl closers
	defer cl.Close()
	resolver, err := newResolver(cfg, &cl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()
	v, err := resolver.Resolve(ctx, cmd.Arg(0), passphrase(*key, cfg))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	writeJSON(stdout, resolveResult{Kind: v.Kind, Content: v.Data, Chain: v.Chain, Encrypted: v.Encrypted}, false)
	return 0
}

// runPublishCmd implements `goldeval publish <file.json>`. Pinata is tried
// first when credentials are set, then a local IPFS daemon, then, with
// --local, the artifact store.
func runPublishCmd(args []string, stdout, stderr io.Writer) int {
	cmd := pflag.NewFlagSet("publish", pflag.ContinueOnError)
	cmd.SetOutput(stderr)
	profile := cmd.StringP("config", "c", "", "YAML profile overriding the environment")
	local := cmd.Bool("local", false, "Fall back to the artifact store when no IPFS pinner succeeds")
	name := cmd.String("name", "", "Name recorded with the pin (default: file name)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: goldeval publish [flags] <file.json>")
		return 2
	}

	cfg, err := loadConfig(*profile, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	raw, err := readInput(cmd.Arg(0))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %s is not JSON: %v\n", cmd.Arg(0), err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()

	var pinners []artifacts.Pinner
	if cfg.PinataJWT != "" || cfg.PinataAPIKey != "" {
		pinners = append(pinners, artifacts.NewPinataPinner(artifacts.PinataConfig{
			JWT:       cfg.PinataJWT,
			APIKey:    cfg.PinataAPIKey,
			APISecret: cfg.PinataSecretKey,
		}))
	}
	if cfg.IPFSAPIURL != "" {
		pinners = append(pinners, artifacts.NewDaemonPinner(cfg.IPFSAPIURL, nil))
	}
	if *local {
		store, err := artifacts.NewStoreFromEnv(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		pinners = append(pinners, artifacts.NewStorePinner(store))
	}
	if len(pinners) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: no pinner configured (set PINATA_JWT, IPFS_API_URL or pass --local)")
		return 2
	}

	pinName := *name
	if pinName == "" && cmd.Arg(0) != "-" {
		pinName = filepath.Base(cmd.Arg(0))
	}
	res, err := artifacts.NewPublisher(pinners...).PublishJSON(ctx, doc, pinName)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	writeJSON(stdout, res, false)
	return 0
}

// runSealCmd implements `goldeval seal`: stdin plaintext to envelope.
func runSealCmd(args []string, stdout, stderr io.Writer) int {
	return runCodecCmd("seal", args, stdout, stderr, func(c *kms.Codec, in string) (string, error) {
		return c.Encrypt(in)
	})
}

// runOpenCmd implements `goldeval open`: stdin envelope to plaintext.
func runOpenCmd(args []string, stdout, stderr io.Writer) int {
	return runCodecCmd("open", args, stdout, stderr, func(c *kms.Codec, in string) (string, error) {
		return c.Decrypt(strings.TrimSpace(in))
	})
}

func runCodecCmd(name string, args []string, stdout, stderr io.Writer, op func(*kms.Codec, string) (string, error)) int {
	cmd := pflag.NewFlagSet(name, pflag.ContinueOnError)
	cmd.SetOutput(stderr)
	profile, key := commonFlags(cmd)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*profile, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	codec := kms.NewCodec(passphrase(*key, cfg))
	if !codec.Enabled() {
		_, _ = fmt.Fprintln(stderr, "Error: no passphrase (set IPFS_ENCRYPTION_KEY or pass --key)")
		return 2
	}

	in, err := io.ReadAll(stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read stdin: %v\n", err)
		return 2
	}
	out, err := op(codec, strings.TrimRight(string(in), "\r\n"))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, kms.ErrFormat) || errors.Is(err, kms.ErrCrypto) {
			return 1
		}
		return 2
	}
	_, _ = fmt.Fprintln(stdout, out)
	return 0
}

type policyReport struct {
	Effective policy.Meta     `json:"effective"`
	Builtin   bool            `json:"builtin"`
	Documents []policyInfo    `json:"documents"`
	Defaults  policy.Defaults `json:"defaults"`
}

type policyInfo struct {
	ID        string `json:"id"`
	Version   string `json:"version"`
	Hash      string `json:"hash"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func infoOf(d policy.Document) policyInfo {
	return policyInfo{ID: d.ID, Version: d.Version, Hash: d.Hash, UpdatedAt: d.Body.UpdatedAt}
}

// runPolicyCmd implements `goldeval policy`.
func runPolicyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := pflag.NewFlagSet("policy", pflag.ContinueOnError)
	cmd.SetOutput(stderr)
	profile := cmd.StringP("config", "c", "", "YAML profile overriding the environment")
	dir := cmd.String("dir", "", "Policy directory (default POLICY_DIR)")
	verify := cmd.String("verify", "", "Validate one policy file and print its identity")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*profile, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if *dir == "" {
		*dir = cfg.PolicyDir
	}
	loader, err := policy.NewLoader(*dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if *verify != "" {
		doc, err := loader.LoadFile(*verify)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		writeJSON(stdout, infoOf(doc), false)
		return 0
	}

	if err := loader.LoadAll(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	docs := loader.Documents()
	latest := loader.Latest(time.Now())
	defaults := policy.DefaultsFromEnv()

	report := policyReport{
		Effective: policy.Merge(defaults, &latest).Meta(),
		Builtin:   len(docs) == 0,
		Documents: make([]policyInfo, 0, len(docs)),
		Defaults:  defaults,
	}
	for _, d := range docs {
		report.Documents = append(report.Documents, infoOf(d))
	}
	writeJSON(stdout, report, false)
	return 0
}
