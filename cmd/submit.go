package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/reliefgrid/coordinator/app"
	"github.com/reliefgrid/coordinator/config"
	"github.com/reliefgrid/coordinator/core/model"
)

var submitFile string

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit one normalized request and print the scored request and its tasks",
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "request file (yaml or json, - for stdin)")
	_ = submitCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(submitCmd)
}

// readRequest decodes a normalized request. JSON is accepted by the YAML
// decoder as well, so only the extension of stdin input is ambiguous.
func readRequest(path string, stdin io.Reader) (model.NormalizedRequest, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return model.NormalizedRequest{}, err
	}
	var n model.NormalizedRequest
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &n)
	} else {
		err = yaml.Unmarshal(data, &n)
	}
	if err != nil {
		return model.NormalizedRequest{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return n, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	n, err := readRequest(submitFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg, app.WithoutFeeds())
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	sub, err := svc.Engine.SubmitRequest(cmd.Context(), n)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sub)
}
