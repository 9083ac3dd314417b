package chat

// Gemini Model IDs
//
// | Model Name                  | API Model ID                | Use Case                      |
// |-----------------------------|-----------------------------|-------------------------------|
// | Gemini 3 Flash (Preview)    | gemini-3-flash-preview      | Best for speed + intelligence |
// | Gemini 2.5 Flash            | gemini-2.5-flash            | Stable, balanced performance  |
// | Gemini 2.5 Flash Image      | gemini-2.5-flash-image      | Fast image generation/edit    |
// | Gemini 3 Pro Image          | gemini-3-pro-image-preview  | Advanced image generation     |
const (
	// ModelGemini3FlashPreview is best for speed + intelligence.
	ModelGemini3FlashPreview = "gemini-3-flash-preview"

	// ModelGemini25Flash is stable, balanced performance.
	ModelGemini25Flash = "gemini-2.5-flash"

	// ModelGemini25FlashImage is a fast image generation/edit model.
	ModelGemini25FlashImage = "gemini-2.5-flash-image"

	// ModelGemini3ProImage is for advanced image generation/edit.
	ModelGemini3ProImage = "gemini-3-pro-image-preview"
)

// DefaultImageModel generates and refines try-on images.
// Overridden by GEMINI_IMAGE_MODEL.
const DefaultImageModel = ModelGemini25FlashImage

// DefaultTextModel handles detection, analysis and safety screening.
// Overridden by GEMINI_TEXT_MODEL.
const DefaultTextModel = ModelGemini3FlashPreview
