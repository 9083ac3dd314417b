package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/tryon-pipeline/internal/cli"
	"github.com/fpang/tryon-pipeline/internal/imageprep"
	"github.com/fpang/tryon-pipeline/internal/model"
	"github.com/fpang/tryon-pipeline/internal/pipeline"
)

var (
	subjectFlag     string
	garmentFlag     string
	categoryFlag    string
	descriptionFlag string
	outFlag         string
	refineFlags     []string
	optionFlags     model.OptionSet

	resultIDFlag    string
	instructionFlag string
	limitFlag       int
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a try-on image from a subject photo and a garment image",
	Args:  cobra.NoArgs,
	RunE:  runGenerate,
}

var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Refine a stored try-on result with a natural-language instruction",
	Args:  cobra.NoArgs,
	RunE:  runRefine,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the most recent try-on results for the user",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	f := generateCmd.Flags()
	f.StringVarP(&subjectFlag, "subject", "s", "", "Subject photo of the person to dress; a file picker opens when omitted")
	f.StringVarP(&garmentFlag, "garment", "g", "", "Garment image to try on; a file picker opens when omitted")
	f.StringVar(&categoryFlag, "category", model.CategoryClothing, "Garment category: tops, bottoms, dresses, shoes, accessories, clothing")
	f.StringVar(&descriptionFlag, "description", "", "Short garment description used in the prompt")
	f.StringVarP(&outFlag, "out", "o", "", "Write the generated image to this file")
	f.StringArrayVar(&refineFlags, "refine", nil, "Refinement instruction to apply after generation (repeatable)")
	addOptionFlags(generateCmd)

	rf := refineCmd.Flags()
	rf.StringVar(&resultIDFlag, "result-id", "", "ID of the result to refine (required)")
	rf.StringVarP(&instructionFlag, "instruction", "i", "", "Refinement instruction; prompted for when omitted")
	rf.StringVarP(&outFlag, "out", "o", "", "Write the refined image to this file")
	addOptionFlags(refineCmd)
	_ = refineCmd.MarkFlagRequired("result-id")

	historyCmd.Flags().IntVarP(&limitFlag, "limit", "n", 10, "Maximum results to list")
}

func addOptionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&optionFlags.HighQuality, "high-quality", false, "Request a high-quality render")
	f.BoolVar(&optionFlags.PreserveFeatures, "preserve-features", true, "Preserve the subject's face, body and pose")
	f.StringVar(&optionFlags.Style, "style", "", "Photographic style hint")
	f.StringVar(&optionFlags.Lighting, "lighting", "", "Lighting hint")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	category := strings.ToLower(strings.TrimSpace(categoryFlag))
	if !model.ValidCategory(category) {
		return model.Errorf(model.KindValidation, "generate", "unknown category %q", categoryFlag)
	}

	subjectPath, err := pathOrPick(subjectFlag, "Select subject photo")
	if err != nil {
		return err
	}
	garmentPath, err := pathOrPick(garmentFlag, "Select garment image")
	if err != nil {
		return err
	}

	_, subject, err := cli.ReadImageFile(subjectPath)
	if err != nil {
		return err
	}
	garmentPath, garmentData, err := cli.ReadImageFile(garmentPath)
	if err != nil {
		return err
	}
	format, err := imageprep.DetectFormat(garmentData)
	if err != nil {
		return err
	}

	app, _, err := assemble(ctx)
	if err != nil {
		return err
	}

	if _, err := app.Coordinator.RegisterSubjectPhoto(ctx, userFlag, subject); err != nil {
		return err
	}

	out, err := app.Coordinator.Run(ctx, pipeline.RunRequest{
		UserID: userFlag,
		Garment: &model.GarmentItem{
			Data:        garmentData,
			MIMEType:    imageprep.MIMEType(format),
			SourceRef:   garmentPath,
			Category:    category,
			Description: descriptionFlag,
			Origin:      model.OriginSelection,
		},
		Options: optionFlags,
	})
	if err != nil {
		return err
	}
	if out.Skipped() {
		log.Warn().Str("message", out.Message).Msg("No try-on generated")
		return cli.PrintJSON(os.Stdout, out)
	}

	result := out.Result
	for _, instruction := range refineFlags {
		result, err = app.Coordinator.Refine(ctx, userFlag, result.ID, instruction, optionFlags)
		if err != nil {
			return err
		}
	}

	if err := writeResultImage(result); err != nil {
		return err
	}
	log.Info().
		Str("result_id", result.ID).
		Str("method", result.ProcessingMethod).
		Float64("quality", result.QualityScore).
		Str("elapsed", cli.FormatDurationShort(time.Since(start))).
		Msg("Try-on complete")
	return cli.PrintJSON(os.Stdout, result)
}

func runRefine(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	instruction := instructionFlag
	if instruction == "" {
		instruction = cli.PromptForInstruction(os.Stdin, os.Stderr)
	}
	if instruction == "" {
		return model.NewError(model.KindValidation, "refine", "instruction is required", nil)
	}

	app, _, err := assemble(ctx)
	if err != nil {
		return err
	}
	result, err := app.Coordinator.Refine(ctx, userFlag, resultIDFlag, instruction, optionFlags)
	if err != nil {
		return err
	}
	if err := writeResultImage(result); err != nil {
		return err
	}
	return cli.PrintJSON(os.Stdout, result)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, _, err := assemble(ctx)
	if err != nil {
		return err
	}
	results, err := app.Coordinator.ListResults(ctx, userFlag, limitFlag)
	if err != nil {
		return err
	}
	return cli.PrintJSON(os.Stdout, results)
}

// pathOrPick returns path, or asks for one with a file picker when empty.
func pathOrPick(path, title string) (string, error) {
	if path != "" {
		return path, nil
	}
	return cli.PickImageFile(title)
}

// writeResultImage writes the generated image to --out, if given.
func writeResultImage(result *model.TryOnResult) error {
	if outFlag == "" {
		return nil
	}
	if len(result.GeneratedImage) == 0 {
		log.Warn().Str("url", result.ImageURL).Msg("Result has no inline image, nothing written")
		return nil
	}
	if err := os.WriteFile(outFlag, result.GeneratedImage, 0o644); err != nil {
		return model.NewError(model.KindValidation, "write", "failed to write "+outFlag, err)
	}
	log.Info().Str("path", outFlag).Int("bytes", len(result.GeneratedImage)).Msg("Image written")
	return nil
}
