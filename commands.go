package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/coursegen-core/server/internal/agent/model"
	"github.com/coursegen-core/server/internal/agent/pipeline"
	"github.com/coursegen-core/server/internal/agent/prompts"
	"github.com/coursegen-core/server/internal/agent/providers"
	"github.com/coursegen-core/server/internal/render"
	logx "github.com/coursegen-core/server/pkg/logger"
)

var (
	varFlags     []string
	varFileFlags []string
	runIDFlag    string
	modelFlag    string
	outFlag      string

	resumePipeline string

	templateFlag string
	mappingFlag  string
)

// runCmd executes one or more pipelines from their first step
var runCmd = &cobra.Command{
	Use:   "run <pipeline> [pipeline...]",
	Short: "Run pipelines and print the combined document",
	Long: `Run executes each named pipeline (a file path or a name inside PIPELINE_DIR).
Several pipelines run concurrently, each with its own run id. Inputs are
given with --var name=value or --var-file name=path.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPipelines,
}

// resumeCmd continues a failed or interrupted run
var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a run after its last completed step",
	Args:  cobra.ExactArgs(1),
	RunE:  resumeRun,
}

// promptCmd renders one template without calling a model
var promptCmd = &cobra.Command{
	Use:   "prompt <template>",
	Short: "Render a prompt template to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  renderPrompt,
}

// renderCmd fills an office template from a stored run
var renderCmd = &cobra.Command{
	Use:   "render <run-id>",
	Short: "Render a completed run into a docx or xlsx file",
	Long: `Render flattens the run's combined document into dotted keys
(objective, modules[0].title, ...) and fills them, together with the
branding.* fields, into a Word template (--template) or into the cells
listed by a YAML mapping (--mapping).`,
	Args: cobra.ExactArgs(1),
	RunE: renderRun,
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List stored runs",
	Args:  cobra.NoArgs,
	RunE:  listCheckpoints,
}

var checkpointsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a stored run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  showCheckpoint,
}

var checkpointsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteCheckpoint,
}

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "List pipeline definitions and check their templates",
	Args:  cobra.NoArgs,
	RunE:  listPipelines,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List model choices",
	Args:  cobra.NoArgs,
	RunE:  listModels,
}

func init() {
	for _, cmd := range []*cobra.Command{runCmd, resumeCmd, promptCmd} {
		cmd.Flags().StringArrayVar(&varFlags, "var", nil, "input variable as name=value (repeatable)")
		cmd.Flags().StringArrayVar(&varFileFlags, "var-file", nil, "input variable read from a file as name=path (repeatable)")
	}
	for _, cmd := range []*cobra.Command{runCmd, resumeCmd} {
		cmd.Flags().StringVar(&modelFlag, "model", "", "model choice, overrides the pipeline and MODEL_CHOICE")
		cmd.Flags().StringVarP(&outFlag, "out", "o", "", "write the combined document JSON to this file instead of stdout")
	}
	runCmd.Flags().StringVar(&runIDFlag, "run-id", "", "run id (single pipeline only, generated when empty)")
	resumeCmd.Flags().StringVar(&resumePipeline, "pipeline", "", "pipeline to resume with (defaults to the stored pipeline name)")

	renderCmd.Flags().StringVar(&templateFlag, "template", "", "docx template")
	renderCmd.Flags().StringVar(&mappingFlag, "mapping", "", "YAML cell mapping for xlsx output")
	renderCmd.Flags().StringVarP(&outFlag, "out", "o", "", "output file")
	_ = renderCmd.MarkFlagRequired("out")
	renderCmd.MarkFlagsMutuallyExclusive("template", "mapping")
	renderCmd.MarkFlagsOneRequired("template", "mapping")

	checkpointsCmd.AddCommand(checkpointsShowCmd, checkpointsDeleteCmd)
}

// parseVars merges --var and --var-file flags. File contents are used
// verbatim.
func parseVars(pairs, files []string) (model.Variables, error) {
	vars := model.Variables{}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid --var %q, want name=value", p)
		}
		vars[strings.TrimSpace(name)] = value
	}
	for _, p := range files {
		name, path, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" || path == "" {
			return nil, fmt.Errorf("invalid --var-file %q, want name=path", p)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read --var-file %s: %w", name, err)
		}
		vars[strings.TrimSpace(name)] = string(b)
	}
	return vars, nil
}

func writeDocument(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if outFlag == "" {
		_, err = w.Write(b)
		return err
	}
	return os.WriteFile(outFlag, b, 0o644)
}

func runPipelines(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if runIDFlag != "" && len(args) > 1 {
		return fmt.Errorf("--run-id needs a single pipeline, got %d", len(args))
	}
	inputs, err := parseVars(varFlags, varFileFlags)
	if err != nil {
		return err
	}

	defs := make([]*pipeline.Definition, len(args))
	for i, arg := range args {
		if defs[i], err = loadPipeline(arg, cfg); err != nil {
			return err
		}
	}

	store, closeStore, err := openCheckpoints(ctx, cfg)
	defer closeStore()
	if err != nil {
		return err
	}
	library := prompts.NewDirLibrary(cfg.Library.PromptDir)
	for _, def := range defs {
		if err := def.CheckTemplates(library); err != nil {
			return fmt.Errorf("pipeline %q: %w", def.Name, err)
		}
	}

	// A model flag applies to every job; otherwise the first definition
	// decides, since one sequencer drives all jobs.
	seq, err := newSequencer(cfg, resolveChoice(modelFlag, defs[0], cfg), library, store)
	if err != nil {
		return err
	}

	if len(defs) == 1 {
		state, err := seq.Run(ctx, defs[0], runIDFlag, inputs)
		if state != nil {
			logx.Info().Str("run_id", state.RunID).Str("status", string(state.Status)).
				Float64("cost_usd", state.TotalCostUSD).Msg("run finished")
		}
		if err != nil {
			return err
		}
		return writeDocument(cmd.OutOrStdout(), state.Aggregate())
	}

	jobs := make([]pipeline.Job, len(defs))
	for i, def := range defs {
		jobs[i] = pipeline.Job{Definition: def, RunID: pipeline.NewRunID(), Inputs: inputs.Clone()}
	}
	states, runErr := seq.RunAll(ctx, jobs...)
	results := make(map[string]model.Document, len(states))
	for i, state := range states {
		if state == nil {
			continue
		}
		logx.Info().Str("run_id", state.RunID).Str("pipeline", jobs[i].Definition.Name).
			Str("status", string(state.Status)).Float64("cost_usd", state.TotalCostUSD).Msg("run finished")
		if state.Status == model.StatusCompleted {
			results[state.RunID] = state.Aggregate()
		}
	}
	if err := writeDocument(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	return runErr
}

func resumeRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	runID := args[0]
	inputs, err := parseVars(varFlags, varFileFlags)
	if err != nil {
		return err
	}

	store, closeStore, err := openCheckpoints(ctx, cfg)
	defer closeStore()
	if err != nil {
		return err
	}
	name := resumePipeline
	if name == "" {
		state, err := store.Load(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", runID, err)
		}
		name = state.Pipeline
	}
	def, err := loadPipeline(name, cfg)
	if err != nil {
		return err
	}

	library := prompts.NewDirLibrary(cfg.Library.PromptDir)
	seq, err := newSequencer(cfg, resolveChoice(modelFlag, def, cfg), library, store)
	if err != nil {
		return err
	}
	state, err := seq.Resume(ctx, def, runID, inputs)
	if err != nil {
		return err
	}
	logx.Info().Str("run_id", state.RunID).Str("status", string(state.Status)).
		Float64("cost_usd", state.TotalCostUSD).Msg("run finished")
	return writeDocument(cmd.OutOrStdout(), state.Aggregate())
}

func renderPrompt(cmd *cobra.Command, args []string) error {
	vars, err := parseVars(varFlags, varFileFlags)
	if err != nil {
		return err
	}
	library := prompts.NewDirLibrary(cfg.Library.PromptDir)
	text, err := library.Render(cmd.Context(), args[0], vars)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}

func renderRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, closeStore, err := openCheckpoints(ctx, cfg)
	defer closeStore()
	if err != nil {
		return err
	}
	state, err := store.Load(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", args[0], err)
	}
	if state.Status != model.StatusCompleted {
		logx.Warn().Str("run_id", state.RunID).Str("status", string(state.Status)).
			Msg("rendering an incomplete run")
	}

	var r render.Renderer
	if templateFlag != "" {
		docx := render.NewDocxRenderer(templateFlag)
		docx.LogoPath = cfg.Branding.LogoPath
		r = docx
	} else {
		if r, err = render.LoadExcelRenderer(mappingFlag); err != nil {
			return err
		}
	}

	values := render.Merge(render.Flatten(state.Aggregate()), cfg.Branding.Fields())
	if err := os.MkdirAll(filepath.Dir(outFlag), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(outFlag)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outFlag, err)
	}
	if err := r.Render(values, f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logx.Info().Str("run_id", state.RunID).Str("out", outFlag).Int("fields", len(values)).Msg("document rendered")
	return nil
}

func listCheckpoints(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, closeStore, err := openCheckpoints(ctx, cfg)
	defer closeStore()
	if err != nil {
		return err
	}
	ids, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No stored runs.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tPIPELINE\tSTATUS\tLAST STEP\tCOST (USD)\tUPDATED")
	for _, id := range ids {
		state, err := store.Load(ctx, id)
		if err != nil {
			logx.Warn().Err(err).Str("run_id", id).Msg("skipping unreadable checkpoint")
			continue
		}
		last := state.LastCompletedStep()
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.4f\t%s\n", state.RunID, state.Pipeline, state.Status,
			last, state.TotalCostUSD, state.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func showCheckpoint(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, closeStore, err := openCheckpoints(ctx, cfg)
	defer closeStore()
	if err != nil {
		return err
	}
	state, err := store.Load(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", args[0], err)
	}
	return writeDocument(cmd.OutOrStdout(), state)
}

func deleteCheckpoint(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, closeStore, err := openCheckpoints(ctx, cfg)
	defer closeStore()
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func listPipelines(cmd *cobra.Command, args []string) error {
	names, err := pipeline.ListDefinitions(cfg.Library.PipelineDir)
	if err != nil {
		return err
	}
	library := prompts.NewDirLibrary(cfg.Library.PromptDir)
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTEPS\tMODEL\tCHECK")
	for _, name := range names {
		def, err := loadPipeline(name, cfg)
		if err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t%v\n", name, err)
			continue
		}
		check := "ok"
		if err := def.CheckTemplates(library); err != nil {
			check = strings.ReplaceAll(err.Error(), "\n", "; ")
		}
		m := def.Model
		if m == "" {
			m = cfg.Model.Choice
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", def.Name, strings.Join(def.StepNames(), " > "), m, check)
	}
	return tw.Flush()
}

func listModels(cmd *cobra.Command, args []string) error {
	creds := cfg.Keys.Credentials()
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHOICE\tPROVIDER\tMODEL\tJSON MODE\tKEY")
	for _, name := range providers.Choices() {
		c, _ := providers.Lookup(name)
		key := "missing"
		if creds.Has(c.Provider) {
			key = "set"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", c.Name, c.Provider, c.Model, c.JSONMode, key)
	}
	return tw.Flush()
}
