package preprocess

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"bytes"

	"github.com/encoderhq/encoderd/internal/types"
)

// Decoder converts raw item content into a model-ready tensor.
// Implementations must be safe for concurrent use; the pool invokes a single
// decoder from all of its workers.
type Decoder interface {
	Decode(ctx context.Context, item types.Item) (types.Tensor, error)
}

// DecodeError marks a single item whose content could not be converted.
// It is confined to the item's index; the rest of the batch proceeds.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode item %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrEmptyItem is returned when an item carries no content at all.
var ErrEmptyItem = errors.New("item has no content")

// TextDecoder tokenizes text into a fixed-capacity id tensor.
// The tokenization is a stand-in for a model vocabulary: whitespace split,
// lowercased, FNV-hashed ids. The normalized text is retained on the tensor
// for backends that consume text natively.
type TextDecoder struct {
	MaxTokens int
}

// Decode implements Decoder for text items.
func (d TextDecoder) Decode(_ context.Context, item types.Item) (types.Tensor, error) {
	if item.Text == "" {
		return types.Tensor{}, ErrEmptyItem
	}

	normalized := strings.Join(strings.Fields(strings.ToLower(item.Text)), " ")
	tokens := strings.Fields(normalized)

	max := d.MaxTokens
	if max <= 0 {
		max = 77
	}
	if len(tokens) > max {
		tokens = tokens[:max]
	}

	data := make([]float32, len(tokens))
	for i, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		data[i] = float32(h.Sum32() % 49408)
	}

	return types.Tensor{
		Shape: []int{len(data)},
		Data:  data,
		Text:  normalized,
	}, nil
}

// ImageDecoder decodes JPEG/PNG bytes and resamples them to a square
// Size×Size grayscale tensor in [0,1].
type ImageDecoder struct {
	Size int
}

// Decode implements Decoder for image items.
func (d ImageDecoder) Decode(_ context.Context, item types.Item) (types.Tensor, error) {
	if len(item.Blob) == 0 {
		return types.Tensor{}, ErrEmptyItem
	}

	img, _, err := image.Decode(bytes.NewReader(item.Blob))
	if err != nil {
		return types.Tensor{}, fmt.Errorf("decode image: %w", err)
	}

	size := d.Size
	if size <= 0 {
		size = 224
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return types.Tensor{}, errors.New("image has zero area")
	}

	// Nearest-neighbor resample; real deployments plug in their own decoder.
	data := make([]float32, size*size)
	for y := 0; y < size; y++ {
		srcY := bounds.Min.Y + y*h/size
		for x := 0; x < size; x++ {
			srcX := bounds.Min.X + x*w/size
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			// Luma from 16-bit channels, scaled to [0,1].
			data[y*size+x] = float32(0.299*float64(r)+0.587*float64(g)+0.114*float64(b)) / 65535.0
		}
	}

	return types.Tensor{
		Shape: []int{size, size},
		Data:  data,
	}, nil
}

// ItemDecoder dispatches an item to the text or image decoder by content kind.
// Pre-supplied tensors pass through untouched.
type ItemDecoder struct {
	Text  Decoder
	Image Decoder
}

// Decode implements Decoder by content-kind dispatch.
func (d ItemDecoder) Decode(ctx context.Context, item types.Item) (types.Tensor, error) {
	switch {
	case item.Tensor != nil:
		return *item.Tensor, nil
	case item.Text != "":
		if d.Text == nil {
			return types.Tensor{}, errors.New("text content not supported by this backend")
		}
		return d.Text.Decode(ctx, item)
	case len(item.Blob) > 0:
		if d.Image == nil {
			return types.Tensor{}, errors.New("image content not supported by this backend")
		}
		return d.Image.Decode(ctx, item)
	default:
		return types.Tensor{}, ErrEmptyItem
	}
}
