package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pavelanni/examforge/internal/exam"
	"github.com/pavelanni/examforge/internal/generate"
	"github.com/pavelanni/examforge/internal/llm"
	"github.com/pavelanni/examforge/internal/model"
)

func runGenerate(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	client, closeLLM, err := openLLM(ctx, v)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	defer closeLLM()
	svc, closeStore, err := openService(ctx, v, client)
	if err != nil {
		return err
	}
	defer closeStore()

	var types []model.QuestionType
	for _, t := range v.GetStringSlice("types") {
		types = append(types, model.QuestionType(t))
	}
	t, err := svc.GenerateTest(ctx, generate.Request{
		Topic:        v.GetString("title"),
		Description:  v.GetString("description"),
		Count:        v.GetInt("count"),
		AllowedTypes: types,
		SubjectArea:  v.GetString("subject-area"),
		TimeLimit:    v.GetInt("time-limit"),
		CreatedBy:    v.GetString("created-by"),
	})
	if err != nil {
		return err
	}
	return writeOutput(v.GetString("output"), t)
}

func runImport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	st, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer st.Close()
	// Importing never calls the model.
	svc := exam.New(st, llm.Unavailable{}, exam.DefaultOptions())

	for _, path := range v.GetStringSlice("file") {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		res, err := svc.Import(ctx, path, data, v.GetString("created-by"))
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		slog.Info("import finished", "path", path, "status", res.Status, "tests", len(res.TestIDs))
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	st, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer st.Close()

	export, err := st.ExportTest(ctx, v.GetString("test-id"))
	if err != nil {
		return fmt.Errorf("export test: %w", err)
	}
	return writeOutput(v.GetString("output"), export)
}

// writeOutput writes v as indented JSON to path, or stdout for "" and "-".
func writeOutput(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if path == "" || path == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
