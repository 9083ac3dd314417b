package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/tryon-pipeline/internal/cli"
	"github.com/fpang/tryon-pipeline/internal/imageprep"
	"github.com/fpang/tryon-pipeline/internal/model"
)

var (
	highQualityFlag bool
	brightnessFlag  float64
	contrastFlag    float64
	saturationFlag  float64
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Detect garments in an image such as a shopping page screenshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

var enhanceCmd = &cobra.Command{
	Use:   "enhance <image>",
	Short: "Apply the pre-generation enhancement to an image",
	Long: `enhance runs the same local preparation the pipeline applies before
generation: bounded resize, colour adjustment and sharpening. No API key
is needed.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnhance,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <image>",
	Short: "Print image dimensions, dominant colours and capture metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	f := enhanceCmd.Flags()
	f.StringVarP(&outFlag, "out", "o", "", "Output file (required)")
	f.BoolVar(&highQualityFlag, "high-quality", false, "Add denoise and adaptive contrast")
	f.Float64Var(&brightnessFlag, "brightness", 0, "Extra brightness delta (-1 to 1)")
	f.Float64Var(&contrastFlag, "contrast", 0, "Extra contrast delta (-1 to 1)")
	f.Float64Var(&saturationFlag, "saturation", 0, "Extra saturation delta (-1 to 1)")
	_ = enhanceCmd.MarkFlagRequired("out")
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, data, err := cli.ReadImageFile(args[0])
	if err != nil {
		return err
	}
	format, err := imageprep.DetectFormat(data)
	if err != nil {
		return err
	}

	app, _, err := assemble(ctx)
	if err != nil {
		return err
	}
	detection := app.Coordinator.Detect(ctx, data, imageprep.MIMEType(format))
	log.Info().Int("items", len(detection.Items)).Msg("Detection complete")
	return cli.PrintJSON(os.Stdout, detection)
}

func runEnhance(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	_, data, err := cli.ReadImageFile(args[0])
	if err != nil {
		return err
	}

	opts := imageprep.AIPreparationOptions(highQualityFlag)
	opts.Brightness += brightnessFlag
	opts.Contrast += contrastFlag
	opts.Saturation += saturationFlag

	enhanced, mimeType, err := imageprep.Enhance(data, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outFlag, enhanced, 0o644); err != nil {
		return model.NewError(model.KindValidation, "write", "failed to write "+outFlag, err)
	}
	log.Info().
		Str("path", outFlag).
		Str("mime", mimeType).
		Str("before", imageprep.FormatSize(int64(len(data)))).
		Str("after", imageprep.FormatSize(int64(len(enhanced)))).
		Msg("Enhanced image written")
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	_, data, err := cli.ReadImageFile(args[0])
	if err != nil {
		return err
	}
	meta := imageprep.GetMetadata(data)
	if !meta.Valid {
		return model.NewError(model.KindValidation, "inspect", meta.Error, model.ErrImageLoad)
	}
	return cli.PrintJSON(os.Stdout, meta)
}
