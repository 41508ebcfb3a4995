package pipeline

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"github.com/coursegen-core/server/internal/agent/model"
	"github.com/coursegen-core/server/internal/agent/parsers"
)

// Node names inside a step chain.
const (
	NodeAssemble = "assemble"
	NodeComplete = "complete"
	NodeExtract  = "extract"
)

// completion carries a request and its response between chain nodes.
type completion struct {
	Request model.ModelRequest
	Raw     model.RawResponse
}

// stepOutput is the result of one successful chain invocation.
type stepOutput struct {
	Document model.Document
	Model    string
	Usage    model.TokenUsage
	Stage    parsers.Stage
}

// attemptTrace records what a single invocation did, including the first
// node error, since the chain wraps node errors in its own.
type attemptTrace struct {
	err   error
	usage model.TokenUsage
	model string
}

func (t *attemptTrace) fail(err error) error {
	if t.err == nil {
		t.err = err
	}
	return err
}

// compileStep builds the assemble -> complete -> extract chain for step.
func (s *Sequencer) compileStep(ctx context.Context, step StepDef, tr *attemptTrace) (compose.Runnable[model.Variables, stepOutput], error) {
	assemble := compose.InvokableLambda(func(ctx context.Context, vars model.Variables) (model.ModelRequest, error) {
		text, err := s.prompts.Render(ctx, step.Template, vars)
		if err != nil {
			return model.ModelRequest{}, tr.fail(err)
		}
		return s.request(step, text), nil
	})

	complete := compose.InvokableLambda(func(ctx context.Context, req model.ModelRequest) (completion, error) {
		// the model call is not interrupted by run cancellation; it is
		// bounded by the requester's own timeout
		raw, err := s.requester.Complete(context.WithoutCancel(ctx), req)
		if err != nil {
			return completion{}, tr.fail(err)
		}
		tr.usage = tr.usage.Add(raw.Usage)
		tr.model = req.Model
		return completion{Request: req, Raw: raw}, nil
	})

	extract := compose.InvokableLambda(func(ctx context.Context, in completion) (stepOutput, error) {
		res, err := parsers.ExtractWithTrace(in.Raw.Text, step.Schema)
		if err != nil {
			return stepOutput{}, tr.fail(err)
		}
		return stepOutput{
			Document: res.Document,
			Model:    in.Request.Model,
			Usage:    in.Raw.Usage,
			Stage:    res.Stage,
		}, nil
	})

	chain := compose.NewChain[model.Variables, stepOutput]()
	chain.
		AppendLambda(assemble, compose.WithNodeName(NodeAssemble)).
		AppendLambda(complete, compose.WithNodeName(NodeComplete)).
		AppendLambda(extract, compose.WithNodeName(NodeExtract))

	runnable, err := chain.Compile(ctx, compose.WithGraphName(step.Name))
	if err != nil {
		return nil, fmt.Errorf("compile step %q: %w", step.Name, err)
	}
	return runnable, nil
}

// request builds the model request for a rendered prompt, applying the
// step's overrides to the choice defaults.
func (s *Sequencer) request(step StepDef, prompt string) model.ModelRequest {
	req := s.choice.Request(s.credentials, prompt)
	if step.Temperature != nil {
		req.Temperature = *step.Temperature
	}
	if step.JSONMode != nil {
		req.JSONMode = *step.JSONMode
	}
	if step.System != "" {
		req = req.WithSystem(step.System)
	}
	if step.MaxTokens > 0 {
		req = req.WithMaxTokens(step.MaxTokens)
	}
	return req
}

// variablesFor merges run inputs with the documents of completed steps, in
// order, so later documents win on shared keys.
func variablesFor(state *model.PipelineState, inputs model.Variables) model.Variables {
	vars := inputs.Clone()
	for _, rec := range state.Steps {
		vars = vars.MergeDocument(rec.Name, rec.Document)
	}
	return vars
}
