package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/compatlabel/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Platform config.Platform
	Missing  []string          // Required variables that are missing
	Present  map[string]string // Variables that are set (masked values)
	Warnings []string          // Non-fatal warnings
}

// EnvCommand returns the env command
func EnvCommand() *cli.Command {
	return &cli.Command{
		Name:  "env",
		Usage: "Check which CI variables are available",
		Action: func(c *cli.Context) error {
			result := CheckRequiredConfig(os.Getenv)
			PrintConfigCheck(c.App.Writer, result)
			if len(result.Missing) > 0 {
				return fmt.Errorf("missing required variables: %s", strings.Join(result.Missing, ", "))
			}
			return nil
		},
	}
}

// CheckRequiredConfig reports the CI variables of the detected platform.
func CheckRequiredConfig(getenv func(string) string) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Platform: config.DetectPlatform(getenv),
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
	}

	if result.Platform == config.PlatformAny {
		result.Warnings = append(result.Warnings, "no CI platform detected; settings must come from the config file, COMPATLABEL_* variables or flags")
	}

	keySet := map[string]bool{}
	labelSet := false
	for _, v := range config.CIVariables {
		if v.Platform != config.PlatformAny && v.Platform != result.Platform {
			continue
		}
		val := getenv(v.Name)
		if val == "" {
			if v.Required {
				result.Missing = append(result.Missing, v.Name)
			}
			continue
		}
		keySet[v.Key] = true
		if strings.HasPrefix(v.Key, "labels.") {
			labelSet = true
		}
		if v.Secret {
			result.Present[v.Name] = maskSecret(val)
		} else {
			result.Present[v.Name] = val
		}
	}

	switch result.Platform {
	case config.PlatformGitHub:
		if !keySet["github.token"] {
			result.Missing = append(result.Missing, "GITHUB_TOKEN")
		}
		if !keySet["general.base_ref"] {
			result.Warnings = append(result.Warnings, "GITHUB_BASE_REF is empty; the base ref defaults to main")
		}
	case config.PlatformGitLab:
		if !keySet["gitlab.merge_request_iid"] {
			result.Warnings = append(result.Warnings, "CI_MERGE_REQUEST_IID is empty; labels will not be changed")
		}
	}

	if !labelSet {
		result.Warnings = append(result.Warnings, "no LABEL_* variables set; labels must be configured elsewhere")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(w io.Writer, result *ConfigCheckResult) {
	fmt.Fprintln(w, "=== CI Environment Check ===")

	switch result.Platform {
	case config.PlatformGitHub:
		fmt.Fprintln(w, "Platform: GitHub Actions")
	case config.PlatformGitLab:
		fmt.Fprintln(w, "Platform: GitLab CI")
	default:
		fmt.Fprintln(w, "Platform: none detected")
	}

	fmt.Fprintln(w, "")

	if len(result.Missing) > 0 {
		fmt.Fprintln(w, "❌ Missing required variables:")
		for _, v := range result.Missing {
			fmt.Fprintf(w, "   - %s\n", v)
		}
		fmt.Fprintln(w, "")
	}

	if len(result.Present) > 0 {
		names := make([]string, 0, len(result.Present))
		for k := range result.Present {
			names = append(names, k)
		}
		sort.Strings(names)

		fmt.Fprintln(w, "✓ Configured variables:")
		for _, k := range names {
			fmt.Fprintf(w, "   - %s = %s\n", k, result.Present[k])
		}
		fmt.Fprintln(w, "")
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "⚠ Warning: %s\n", warning)
	}

	if len(result.Missing) == 0 {
		fmt.Fprintln(w, "✓ All required configuration is present")
	}

	fmt.Fprintln(w, "============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
