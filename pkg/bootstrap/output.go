package bootstrap

import (
	"fmt"
	"log/slog"
	"strings"
)

// PrintBootstrapResult displays the bootstrap results in a clean, formatted way
func PrintBootstrapResult(result *ClientBootstrapResult) {
	if result == nil || !result.ClientCreated {
		return
	}

	printSectionHeader("CLIENT BOOTSTRAP COMPLETED")
	printClientSection(result)
	printSecurityWarnings(result.SecretFromEnv)
	printSectionFooter()
}

// printSectionHeader prints a formatted section header
func printSectionHeader(title string) {
	border := strings.Repeat("=", 80)
	fmt.Printf("\n%s\n", border)
	fmt.Printf("🚀 %s\n", title)
	fmt.Printf("%s\n", border)
}

// printSectionFooter prints a formatted section footer
func printSectionFooter() {
	border := strings.Repeat("=", 80)
	fmt.Printf("%s\n\n", border)
}

func printClientSection(result *ClientBootstrapResult) {
	fmt.Println("\n🔑 Client:")
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("  Tenant:     %s\n", result.TenantID)
	fmt.Printf("  Client ID:  %s\n", result.ClientID)

	if !result.SecretFromEnv {
		fmt.Printf("  Secret:     %s\n", result.ClientSecret)
	} else {
		fmt.Printf("  Secret:     (configured via BOOTSTRAP_CLIENT_SECRET environment variable)\n")
	}

	if len(result.CallbackURLs) == 0 {
		fmt.Println("  Callbacks:  (none - every redirect_uri will be rejected)")
		return
	}
	for i, cb := range result.CallbackURLs {
		label := "            "
		if i == 0 {
			label = "  Callbacks: "
		}
		fmt.Printf("%s%s\n", label, cb)
	}
}

// printSecurityWarnings prints important security warnings
func printSecurityWarnings(secretFromEnv bool) {
	fmt.Println("\n⚠️  SECURITY REMINDERS:")
	fmt.Println(strings.Repeat("-", 80))

	if !secretFromEnv {
		fmt.Println("  • THIS SECRET WILL NOT BE DISPLAYED AGAIN - SAVE IT NOW!")
	}
	fmt.Println("  • Register only callback URLs you control")
}

// LogBootstrapSummary logs a concise summary using slog (for structured logging)
func LogBootstrapSummary(result *ClientBootstrapResult) {
	if result == nil || !result.ClientCreated {
		return
	}

	// Log without the secret
	slog.Info("Client bootstrap summary",
		"tenant_id", result.TenantID,
		"client_id", result.ClientID,
		"callbacks", len(result.CallbackURLs),
		"secret_from_env", result.SecretFromEnv,
	)
}
