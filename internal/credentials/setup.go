package credentials

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Setup runs the interactive key entry flow and saves the result.
func Setup(manager *Manager) error {
	creds, err := manager.Load()
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("relay setup")
	fmt.Println()
	if creds.Configured("openrouter") {
		fmt.Println("An OpenRouter key is already stored; entering a new one replaces it.")
	} else {
		fmt.Println("You'll need an OpenRouter API key.")
		fmt.Println("Get one at: https://openrouter.ai/keys")
	}
	fmt.Println()

	apiKey, err := readAPIKey()
	if err != nil {
		return err
	}

	creds.Set("openrouter", apiKey)
	if err := manager.Save(creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	fmt.Println()
	fmt.Println("API key saved to:", manager.Path())
	return nil
}

func readAPIKey() (string, error) {
	for {
		apiKey := prompt("Enter your OpenRouter API key")
		if apiKey == "" {
			fmt.Println("API key cannot be empty. Please try again.")
			continue
		}
		if !strings.HasPrefix(apiKey, "sk-") {
			fmt.Println("Warning: key doesn't look valid (expected an 'sk-' prefix)")
			confirm := promptWithDefault("Continue anyway? [y/n]", "n")
			if !strings.HasPrefix(strings.ToLower(confirm), "y") {
				continue
			}
		}
		return apiKey, nil
	}
}

func prompt(msg string) string {
	fmt.Printf("%s: ", msg)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptWithDefault(msg, defaultValue string) string {
	line := prompt(fmt.Sprintf("%s [%s]", msg, defaultValue))
	if line == "" {
		return defaultValue
	}
	return line
}
