package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"escrowd/crypto"
	"escrowd/native/escrow"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via ESCROWD_RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("ESCROWD_RPC_TOKEN")

const keystorePassEnv = "ESCROWD_KEYSTORE_PASS"

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		file := "escrow.keystore"
		if len(args) > 1 {
			file = args[1]
		}
		generateKey(file)
	case "predict":
		if len(args) < 4 {
			fmt.Println("Error: Please provide depositor, payee and deadline.")
			printUsage()
			return
		}
		predictAddress(args[1], args[2], args[3], optionalArg(args, 4))
	case "create":
		if len(args) < 4 {
			fmt.Println("Error: Please provide depositor, payee and deadline.")
			printUsage()
			return
		}
		createEscrow(args[1], args[2], args[3], optionalArg(args, 4))
	case "fund":
		if len(args) < 4 {
			fmt.Println("Error: Please provide an address, an amount and a key file.")
			printUsage()
			return
		}
		fund(args[1], args[2], args[3])
	case "sign-release":
		if len(args) < 4 {
			fmt.Println("Error: Please provide an address, an amount and a key file.")
			printUsage()
			return
		}
		signRelease(args[1], args[2], args[3])
	case "release":
		if len(args) < 4 {
			fmt.Println("Error: Please provide an address, an amount and a signature.")
			printUsage()
			return
		}
		release(args[1], args[2], args[3])
	case "reclaim":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an address and a key file.")
			printUsage()
			return
		}
		reclaim(args[1], args[2])
	case "remove":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		remove(args[1])
	case "get":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		getEscrow(args[1])
	case "list":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a depositor address.")
			printUsage()
			return
		}
		listEscrows(args[1])
	case "balance":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		getBalance(args[1])
	case "events":
		limit := 0
		if len(args) > 1 {
			parsed, err := strconv.Atoi(args[1])
			if err != nil {
				fmt.Println("Error: Invalid limit.")
				return
			}
			limit = parsed
		}
		listEvents(limit)
	case "registry":
		code := runRegistryCommand(args[1:], os.Stdout, os.Stderr)
		if code != 0 {
			os.Exit(code)
		}
		return
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func optionalArg(args []string, idx int) string {
	if len(args) > idx {
		return args[idx]
	}
	return ""
}

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("ESCROWD_RPC_URL")); url != "" {
		return url
	}
	return "http://127.0.0.1:8645"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func generateKey(file string) {
	pass := os.Getenv(keystorePassEnv)
	if pass == "" {
		fmt.Printf("Error: %s must be set to encrypt the keystore.\n", keystorePassEnv)
		return
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}
	if err := crypto.SaveToKeystore(file, key, pass); err != nil {
		panic(fmt.Sprintf("Failed to save keystore %s: %v", file, err))
	}
	fmt.Printf("Generated new key and saved to %s\n", file)
	fmt.Printf("Your public address is: %s\n", key.PubKey().Address().String())
	fmt.Println("Store this file securely. Signing commands will refuse to run without it.")
}

func loadKey(file string) (*crypto.PrivateKey, error) {
	pass := os.Getenv(keystorePassEnv)
	if pass == "" {
		return nil, fmt.Errorf("%s must be set to unlock the keystore", keystorePassEnv)
	}
	key, err := crypto.LoadFromKeystore(file, pass)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("keystore %s not found. run ./escrow-cli generate-key first", file)
		}
		return nil, err
	}
	return key, nil
}

// parseDeadline accepts a unix timestamp or a +duration offset from now.
func parseDeadline(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "+") {
		dur, err := time.ParseDuration(strings.TrimPrefix(trimmed, "+"))
		if err != nil {
			return 0, fmt.Errorf("invalid deadline duration: %w", err)
		}
		return time.Now().Add(dur).Unix(), nil
	}
	ts, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid deadline: %w", err)
	}
	return ts, nil
}

func predictAddress(depositor, payee, deadlineStr, salt string) {
	deadline, err := parseDeadline(deadlineStr)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	var result struct {
		Address string `json:"address"`
	}
	params := map[string]interface{}{
		"depositor": depositor, "payee": payee, "deadline": deadline, "salt": salt,
	}
	if err := rpcCall("escrow_predictAddress", params, false, &result); err != nil {
		fmt.Printf("Error predicting address: %v\n", err)
		return
	}
	fmt.Printf("Deployment address: %s\n", result.Address)
}

func createEscrow(depositor, payee, deadlineStr, salt string) {
	deadline, err := parseDeadline(deadlineStr)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	var result map[string]interface{}
	params := map[string]interface{}{
		"depositor": depositor, "payee": payee, "deadline": deadline, "salt": salt,
	}
	if err := rpcCall("escrow_create", params, true, &result); err != nil {
		fmt.Printf("Error creating escrow: %v\n", err)
		return
	}
	fmt.Printf("Escrow deployed at %v\n", result["address"])
	fmt.Printf("Status: %v\n", result["status"])
}

func fund(address, amount, keyFile string) {
	key, err := loadKey(keyFile)
	if err != nil {
		fmt.Printf("Error loading key: %v\n", err)
		return
	}
	params := map[string]interface{}{
		"address": address,
		"caller":  key.PubKey().Address().String(),
		"amount":  amount,
	}
	var ok bool
	if err := rpcCall("escrow_fund", params, true, &ok); err != nil {
		fmt.Printf("Error funding escrow: %v\n", err)
		return
	}
	fmt.Printf("Funded %s with %s.\n", address, amount)
}

func signRelease(address, amountStr, keyFile string) {
	key, err := loadKey(keyFile)
	if err != nil {
		fmt.Printf("Error loading key: %v\n", err)
		return
	}
	addr, err := crypto.DecodeAddress(address)
	if err != nil {
		fmt.Printf("Error: invalid address: %v\n", err)
		return
	}
	amount, ok := parseAmount(amountStr)
	if !ok {
		fmt.Println("Error: Invalid amount.")
		return
	}
	signature, err := escrow.SignRelease(key.PrivateKey, addr.Raw(), amount)
	if err != nil {
		fmt.Printf("Error signing release: %v\n", err)
		return
	}
	fmt.Printf("Release authorization for %s (amount %s):\n", address, amount.String())
	fmt.Printf("0x%s\n", hex.EncodeToString(signature))
}

func release(address, amount, signature string) {
	params := map[string]interface{}{
		"address": address, "amount": amount, "signature": signature,
	}
	var ok bool
	if err := rpcCall("escrow_release", params, true, &ok); err != nil {
		fmt.Printf("Error releasing escrow: %v\n", err)
		return
	}
	fmt.Printf("Released %s from %s.\n", amount, address)
}

func reclaim(address, keyFile string) {
	key, err := loadKey(keyFile)
	if err != nil {
		fmt.Printf("Error loading key: %v\n", err)
		return
	}
	params := map[string]interface{}{
		"address": address,
		"caller":  key.PubKey().Address().String(),
	}
	var ok bool
	if err := rpcCall("escrow_reclaim", params, true, &ok); err != nil {
		fmt.Printf("Error reclaiming escrow: %v\n", err)
		return
	}
	fmt.Printf("Reclaimed deposit from %s.\n", address)
}

func remove(address string) {
	params := map[string]interface{}{"address": address}
	var ok bool
	if err := rpcCall("escrow_remove", params, true, &ok); err != nil {
		fmt.Printf("Error removing escrow: %v\n", err)
		return
	}
	fmt.Printf("Removed %s from the ledger.\n", address)
}

func getEscrow(address string) {
	params := map[string]interface{}{"address": address}
	var result struct {
		Address   string `json:"address"`
		Registry  string `json:"registry"`
		Depositor string `json:"depositor"`
		Payee     string `json:"payee"`
		Deadline  int64  `json:"deadline"`
		FeePct    uint8  `json:"feePercent"`
		Status    string `json:"status"`
		Deposit   string `json:"depositAmount"`
		Balance   string `json:"balance"`
	}
	if err := rpcCall("escrow_get", params, false, &result); err != nil {
		fmt.Printf("Error fetching escrow: %v\n", err)
		return
	}
	fmt.Printf("Escrow %s\n", result.Address)
	fmt.Printf("  Depositor: %s\n", result.Depositor)
	fmt.Printf("  Payee:     %s\n", result.Payee)
	fmt.Printf("  Deadline:  %s\n", time.Unix(result.Deadline, 0).UTC().Format(time.RFC3339))
	fmt.Printf("  Fee:       %d%%\n", result.FeePct)
	fmt.Printf("  Status:    %s\n", result.Status)
	fmt.Printf("  Deposit:   %s\n", result.Deposit)
	fmt.Printf("  Balance:   %s\n", result.Balance)
}

func listEscrows(depositor string) {
	params := map[string]interface{}{"depositor": depositor}
	var result []string
	if err := rpcCall("escrow_list", params, false, &result); err != nil {
		fmt.Printf("Error listing escrows: %v\n", err)
		return
	}
	if len(result) == 0 {
		fmt.Printf("No escrows for %s.\n", depositor)
		return
	}
	fmt.Printf("Escrows for %s:\n", depositor)
	for _, addr := range result {
		fmt.Printf("  %s\n", addr)
	}
}

func getBalance(address string) {
	params := map[string]interface{}{"address": address}
	var result struct {
		Address string `json:"address"`
		Balance string `json:"balance"`
		Nonce   uint64 `json:"nonce"`
	}
	if err := rpcCall("bank_balance", params, false, &result); err != nil {
		fmt.Printf("Error fetching balance: %v\n", err)
		return
	}
	fmt.Printf("State for: %s\n", result.Address)
	fmt.Printf("  Balance: %s\n", result.Balance)
	fmt.Printf("  Nonce:   %d\n", result.Nonce)
}

func listEvents(limit int) {
	var result []struct {
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
	}
	var params interface{}
	if limit > 0 {
		params = map[string]interface{}{"limit": limit}
	}
	if err := rpcCall("escrow_events", params, false, &result); err != nil {
		fmt.Printf("Error fetching events: %v\n", err)
		return
	}
	for _, evt := range result {
		fmt.Printf("%s", evt.Type)
		for k, v := range evt.Attributes {
			fmt.Printf(" %s=%s", k, v)
		}
		fmt.Println()
	}
}

func parseAmount(value string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}

// --- RPC HELPER FUNCTIONS ---

func rpcCall(method string, params interface{}, requireAuth bool, out interface{}) error {
	var paramList []interface{}
	if params != nil {
		paramList = []interface{}{params}
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": method, "params": paramList,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		if rpcAuthToken == "" {
			return fmt.Errorf("privileged RPC call requires ESCROWD_RPC_TOKEN to be set")
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int             `json:"code"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data,omitempty"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode response from node")
	}
	if rpcResp.Error != nil {
		if len(rpcResp.Error.Data) > 0 {
			return fmt.Errorf("error from node: %s (%s)", rpcResp.Error.Message, string(rpcResp.Error.Data))
		}
		return fmt.Errorf("error from node: %s", rpcResp.Error.Message)
	}
	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: escrow-cli [--rpc <url>] <command> [arguments]")
	fmt.Println()
	fmt.Println("Signing commands read the keystore passphrase from " + keystorePassEnv + ".")
	fmt.Println("Mutating commands require ESCROWD_RPC_TOKEN for the node's JSON-RPC auth.")
	fmt.Println("Commands:")
	fmt.Println("  generate-key [file]                        - Generates a key into an encrypted keystore")
	fmt.Println("  predict <depositor> <payee> <deadline> [salt] - Predicts the deployment address")
	fmt.Println("  create <depositor> <payee> <deadline> [salt]  - Deploys a new escrow agreement")
	fmt.Println("  fund <address> <amount> <key_file>         - Funds an agreement as its depositor")
	fmt.Println("  sign-release <address> <amount> <key_file> - Produces a release authorization signature")
	fmt.Println("  release <address> <amount> <signature>     - Releases funds with a signed authorization")
	fmt.Println("  reclaim <address> <key_file>               - Reclaims an expired deposit")
	fmt.Println("  remove <address>                           - Removes an emptied agreement")
	fmt.Println("  get <address>                              - Shows an agreement's state")
	fmt.Println("  list <depositor>                           - Lists a depositor's agreements")
	fmt.Println("  balance <address>                          - Shows an account balance")
	fmt.Println("  events [limit]                             - Shows recently committed ledger events")
	fmt.Println("  registry                                   - Registry administration subcommands")
	fmt.Println()
	fmt.Println("Deadlines accept a unix timestamp or a +duration offset such as +72h.")
}
