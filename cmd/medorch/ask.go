package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Strob0t/MedOrch/internal/domain/specialist"
	"github.com/Strob0t/MedOrch/internal/service"
)

type queryFlags struct {
	image     string
	imageType string
	asJSON    bool
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.image, "image", "", "path to an image for the image specialists")
	cmd.Flags().StringVar(&f.imageType, "image-type", "", "image kind, e.g. skin_lesion or chest_xray")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the raw JSON result")
}

// context builds the specialist context from the flags.
func (f *queryFlags) context() (specialist.Context, error) {
	c := specialist.Context{}
	if f.image != "" {
		data, err := os.ReadFile(filepath.Clean(f.image))
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		c[specialist.KeyImage] = data
	}
	if f.imageType != "" {
		c[specialist.KeyImageType] = f.imageType
	}
	return c, nil
}

func newAskCmd(configPath *string) *cobra.Command {
	var flags queryFlags

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer one question through the full specialist pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), *configPath, strings.Join(args, " "), &flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runAsk(ctx context.Context, out io.Writer, configPath, query string, flags *queryFlags) error {
	qc, err := flags.context()
	if err != nil {
		return err
	}
	c, err := loadCore(ctx, configPath)
	if err != nil {
		return err
	}
	defer c.Close(context.WithoutCancel(ctx))

	orch := service.NewOrchestrator(service.DefaultSessionID, c.deps, nil)
	res := orch.Orchestrate(ctx, query, qc)

	if flags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprint(out, newRenderer(out).result(&res))
	if res.Failed() {
		return fmt.Errorf("orchestration failed: %s", res.Error)
	}
	return nil
}

func newRouteCmd(configPath *string) *cobra.Command {
	var flags queryFlags

	cmd := &cobra.Command{
		Use:   "route <query>",
		Short: "Show which specialists a question would be routed to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoute(cmd.Context(), cmd.OutOrStdout(), *configPath, strings.Join(args, " "), &flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runRoute(ctx context.Context, out io.Writer, configPath, query string, flags *queryFlags) error {
	qc, err := flags.context()
	if err != nil {
		return err
	}
	c, err := loadCore(ctx, configPath)
	if err != nil {
		return err
	}
	defer c.Close(context.WithoutCancel(ctx))

	d := c.router.AnalyzeQuery(ctx, query, qc)

	if flags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	fmt.Fprint(out, newRenderer(out).decision(&d))
	return nil
}
