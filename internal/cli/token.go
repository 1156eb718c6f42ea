package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/melonhq/dashfeed/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage hub bearer tokens",
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random token and its hash",
	Long: `Generate a random bearer token and print it with its argon2id hash.

Put the token in DASHFEED_TOKEN for clients and the hash in
server.token_hash for the hub.`,
	Args: cobra.NoArgs,
	RunE: runTokenGenerate,
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Hash a token read from the terminal",
	Long: `Prompt for a token (twice, without echo) and print its argon2id hash,
suitable for server.token_hash.`,
	Args: cobra.NoArgs,
	RunE: runTokenHash,
}

func init() {
	tokenCmd.AddCommand(tokenGenerateCmd)
	tokenCmd.AddCommand(tokenHashCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenGenerate(cmd *cobra.Command, args []string) error {
	token, err := auth.GenerateToken()
	if err != nil {
		return err
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "token: %s\n", token)
	fmt.Fprintf(out, "hash:  %s\n", hash)
	return nil
}

func runTokenHash(cmd *cobra.Command, args []string) error {
	token, err := auth.PromptAndConfirmToken(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
