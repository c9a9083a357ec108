package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"nhbbridge/cmd/internal/passphrase"
	"nhbbridge/crypto"
	"nhbbridge/native/bridge/message"
)

const (
	defaultPassEnv  = "BRIDGE_SIGNER_PASS"
	defaultKeystore = "signer.keystore"
	defaultRPC      = "http://127.0.0.1:8090"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:], os.Stdout)
	case "address":
		err = runAddress(os.Args[2:], os.Stdout)
	case "build":
		err = runBuild(os.Args[2:], os.Stdout)
	case "sign":
		err = runSign(os.Args[2:], os.Stdin, os.Stdout)
	case "submit":
		err = runSubmit(os.Args[2:], os.Stdin, os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: bridgectl <command> [flags]

commands:
  keygen    create a signer keystore
  address   print the committee identity of a keystore
  build     encode a message and print its signing hash
  sign      sign a message and append the signature to an instruction
  submit    post a signed instruction to bridged`)
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore file %s already exists (use --force to overwrite)", *keystorePath)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	source := passphrase.NewSource(*passEnv)
	source.Confirm = true
	pass, err := source.Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	addr, err := crypto.SaveToKeystore(*keystorePath, key, pass)
	if err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	return printIdentity(out, addr)
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Path to the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	return printIdentity(out, key.PubKey().Address())
}

func printIdentity(out io.Writer, addr common.Address) error {
	_, err := fmt.Fprintf(out, "%s\n%s\n", addr.Hex(), crypto.FormatAddress(addr))
	return err
}

func loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	pass, err := passphrase.NewSource(passEnv).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("failed to open keystore: %w", err)
	}
	return key, nil
}

// messageFlags collects the header and payload fields of a message.
type messageFlags struct {
	msgType     *string
	nonce       *uint64
	sourceChain *uint
	sender      *string
	targetChain *uint
	target      *string
	asset       *uint
	amount      *uint64
	members     *string
	blocked     *bool
	freeze      *bool
	limit       *uint64
}

func registerMessageFlags(fs *flag.FlagSet) *messageFlags {
	return &messageFlags{
		msgType:     fs.String("type", "", "Message type: token_transfer, blocklist, emergency_op or update_limit"),
		nonce:       fs.Uint64("nonce", 0, "Per-type message nonce"),
		sourceChain: fs.Uint("source-chain", 0, "Chain the instruction originates from"),
		sender:      fs.String("sender", "", "token_transfer: foreign sender (0x-hex or raw text)"),
		targetChain: fs.Uint("target-chain", 0, "token_transfer: destination chain id"),
		target:      fs.String("target", "", "token_transfer: recipient address (hex or bech32)"),
		asset:       fs.Uint("asset", 0, "token_transfer/update_limit: asset id"),
		amount:      fs.Uint64("amount", 0, "token_transfer: amount in foreign units"),
		members:     fs.String("members", "", "blocklist: comma separated member addresses"),
		blocked:     fs.Bool("block", true, "blocklist: set (true) or clear (false) the flag"),
		freeze:      fs.Bool("freeze", true, "emergency_op: freeze (true) or unfreeze (false)"),
		limit:       fs.Uint64("limit", 0, "update_limit: new window limit, 0 for unlimited"),
	}
}

func (f *messageFlags) build() (message.Message, error) {
	if *f.sourceChain > 255 || *f.targetChain > 255 || *f.asset > 255 {
		return message.Message{}, errors.New("chain and asset ids must fit in a byte")
	}
	t, err := message.ParseType(*f.msgType)
	if err != nil {
		return message.Message{}, err
	}
	var payload message.Payload
	switch t {
	case message.TypeTokenTransfer:
		sender, err := decodeSender(*f.sender)
		if err != nil {
			return message.Message{}, err
		}
		target, err := crypto.ParseAddress(*f.target)
		if err != nil {
			return message.Message{}, fmt.Errorf("target: %w", err)
		}
		payload = message.TokenTransfer{
			Sender:      sender,
			TargetChain: uint8(*f.targetChain),
			Target:      target,
			AssetID:     uint8(*f.asset),
			Amount:      *f.amount,
		}
	case message.TypeBlocklist:
		var members []common.Address
		for _, raw := range strings.Split(*f.members, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			addr, err := crypto.ParseAddress(raw)
			if err != nil {
				return message.Message{}, fmt.Errorf("members: %w", err)
			}
			members = append(members, addr)
		}
		payload = message.Blocklist{Blocked: *f.blocked, Members: members}
	case message.TypeEmergencyOp:
		payload = message.EmergencyOp{Freeze: *f.freeze}
	case message.TypeUpdateLimit:
		payload = message.UpdateLimit{AssetID: uint8(*f.asset), Limit: *f.limit}
	}
	return message.New(*f.nonce, uint8(*f.sourceChain), payload)
}

func decodeSender(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("sender required")
	}
	if strings.HasPrefix(raw, "0x") {
		b, err := hexutil.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("sender: %w", err)
		}
		return b, nil
	}
	return []byte(raw), nil
}

type builtMessage struct {
	Message  message.Message `json:"message"`
	Hash     common.Hash     `json:"hash"`
	Encoding string          `json:"encoding"`
}

func runBuild(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	mf := registerMessageFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	msg, err := mf.build()
	if err != nil {
		return err
	}
	return writeJSON(out, builtMessage{
		Message:  msg,
		Hash:     msg.Hash(),
		Encoding: "0x" + hex.EncodeToString(msg.EncodeForSigning()),
	})
}

func runSign(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Path to the signer keystore")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	input := fs.String("in", "", "Existing instruction JSON to co-sign, '-' for stdin; otherwise built from flags")
	mf := registerMessageFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var inst message.SignedInstruction
	if *input != "" {
		loaded, err := readInstruction(*input, in)
		if err != nil {
			return err
		}
		inst = loaded
	} else {
		msg, err := mf.build()
		if err != nil {
			return err
		}
		inst.Message = msg
	}

	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	if err := appendSignature(&inst, key); err != nil {
		return err
	}
	return writeJSON(out, inst)
}

// appendSignature adds key's signature unless key already signed inst.
func appendSignature(inst *message.SignedInstruction, key *crypto.PrivateKey) error {
	digest := inst.Message.Hash().Bytes()
	signer := key.PubKey().Address()
	for _, sig := range inst.Signatures {
		if addr, err := crypto.Recover(digest, sig); err == nil && addr == signer {
			return fmt.Errorf("instruction already signed by %s", signer.Hex())
		}
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return err
	}
	inst.Signatures = append(inst.Signatures, hexutil.Bytes(sig))
	return nil
}

func runSubmit(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	endpoint := fs.String("rpc", defaultRPC, "bridged base URL")
	input := fs.String("in", "-", "Instruction JSON, '-' for stdin")
	expected := fs.String("type", "", "Entry point to use; defaults to the message's own type")
	if err := fs.Parse(args); err != nil {
		return err
	}
	inst, err := readInstruction(*input, in)
	if err != nil {
		return err
	}
	path := "/v1/instructions"
	if strings.TrimSpace(*expected) != "" {
		t, err := message.ParseType(*expected)
		if err != nil {
			return err
		}
		path += "/" + t.String()
	}
	body, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(strings.TrimRight(*endpoint, "/")+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if _, err := out.Write(raw); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridged returned %s", resp.Status)
	}
	return nil
}

func readInstruction(path string, stdin io.Reader) (message.SignedInstruction, error) {
	var inst message.SignedInstruction
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return inst, err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&inst); err != nil {
		return inst, fmt.Errorf("decode instruction: %w", err)
	}
	return inst, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
