package main

import (
	"fmt"
	"io"
)

func runRegistryCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, registryUsage())
		return 1
	}

	switch args[0] {
	case "info":
		return runRegistryInfo(stdout, stderr)
	case "pause":
		return runRegistryToggle("registry_pause", "Registry paused.", args[1:], stdout, stderr)
	case "unpause":
		return runRegistryToggle("registry_unpause", "Registry unpaused.", args[1:], stdout, stderr)
	case "withdraw-fees":
		return runRegistryWithdrawFees(args[1:], stdout, stderr)
	case "transfer-ownership":
		return runRegistryTransferOwnership(args[1:], stdout, stderr)
	case "accept-ownership":
		return runRegistryAcceptOwnership(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown registry subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, registryUsage())
		return 1
	}
}

func runRegistryInfo(stdout, stderr io.Writer) int {
	var result struct {
		Address      string `json:"address"`
		FeeRecipient string `json:"feeRecipient"`
		Owner        string `json:"owner"`
		PendingOwner string `json:"pendingOwner"`
		Paused       bool   `json:"paused"`
		FeePercent   uint8  `json:"feePercent"`
		FeeBalance   string `json:"feeBalance"`
	}
	if err := rpcCall("registry_info", nil, false, &result); err != nil {
		fmt.Fprintf(stderr, "Error fetching registry info: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Registry %s\n", result.Address)
	fmt.Fprintf(stdout, "  Owner:        %s\n", result.Owner)
	if result.PendingOwner != "" {
		fmt.Fprintf(stdout, "  PendingOwner: %s\n", result.PendingOwner)
	}
	fmt.Fprintf(stdout, "  FeeRecipient: %s\n", result.FeeRecipient)
	fmt.Fprintf(stdout, "  FeePercent:   %d%%\n", result.FeePercent)
	fmt.Fprintf(stdout, "  FeeBalance:   %s\n", result.FeeBalance)
	fmt.Fprintf(stdout, "  Paused:       %t\n", result.Paused)
	return 0
}

func registryCaller(args []string, stderr io.Writer) (string, bool) {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Error: Please provide a key file.")
		return "", false
	}
	key, err := loadKey(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error loading key: %v\n", err)
		return "", false
	}
	return key.PubKey().Address().String(), true
}

func runRegistryToggle(method, success string, args []string, stdout, stderr io.Writer) int {
	caller, ok := registryCaller(args, stderr)
	if !ok {
		return 1
	}
	var result bool
	if err := rpcCall(method, map[string]interface{}{"caller": caller}, true, &result); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, success)
	return 0
}

func runRegistryWithdrawFees(args []string, stdout, stderr io.Writer) int {
	caller, ok := registryCaller(args, stderr)
	if !ok {
		return 1
	}
	var result struct {
		Amount string `json:"amount"`
	}
	if err := rpcCall("registry_withdrawFees", map[string]interface{}{"caller": caller}, true, &result); err != nil {
		fmt.Fprintf(stderr, "Error withdrawing fees: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Withdrew %s in accumulated fees.\n", result.Amount)
	return 0
}

func runRegistryTransferOwnership(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "Error: Please provide a new owner address and a key file.")
		return 1
	}
	newOwner := args[0]
	caller, ok := registryCaller(args[1:], stderr)
	if !ok {
		return 1
	}
	params := map[string]interface{}{"caller": caller, "newOwner": newOwner}
	var result bool
	if err := rpcCall("registry_transferOwnership", params, true, &result); err != nil {
		fmt.Fprintf(stderr, "Error proposing ownership transfer: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Proposed %s as the new registry owner.\n", newOwner)
	fmt.Fprintln(stdout, "The transfer completes once the new owner runs registry accept-ownership.")
	return 0
}

func runRegistryAcceptOwnership(args []string, stdout, stderr io.Writer) int {
	caller, ok := registryCaller(args, stderr)
	if !ok {
		return 1
	}
	var result bool
	if err := rpcCall("registry_acceptOwnership", map[string]interface{}{"caller": caller}, true, &result); err != nil {
		fmt.Fprintf(stderr, "Error accepting ownership: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "Accepted registry ownership.")
	return 0
}

func registryUsage() string {
	return `Usage: escrow-cli registry <subcommand>

Subcommands:
  info                                  - Shows the registry record and fee balance
  pause <key_file>                      - Pauses new-agreement creation (owner only)
  unpause <key_file>                    - Resumes new-agreement creation (owner only)
  withdraw-fees <key_file>              - Drains accumulated fees to the fee recipient (owner only)
  transfer-ownership <new_owner> <key_file> - Proposes a new registry owner
  accept-ownership <key_file>           - Completes a pending ownership transfer`
}
