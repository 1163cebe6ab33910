package types

import (
	"errors"
	"testing"
)

func TestContentItem_ContentFields(t *testing.T) {
	tests := []struct {
		name string
		item ContentItem
		want int
	}{
		{"empty", ContentItem{}, 0},
		{"text only", ContentItem{Text: "a photo of a cat"}, 1},
		{"blob only", ContentItem{Blob: []byte{0xFF, 0xD8}}, 1},
		{"tensor only", ContentItem{Tensor: []float32{0.1, 0.2}}, 1},
		{"text and blob", ContentItem{Text: "x", Blob: []byte{1}}, 2},
		{"all three", ContentItem{Text: "x", Blob: []byte{1}, Tensor: []float32{1}}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.ContentFields(); got != tt.want {
				t.Errorf("ContentFields() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestContentItem_Item_PreservesIndexAndContent(t *testing.T) {
	item := ContentItem{Text: "hello"}.Item(3)
	if item.Index != 3 {
		t.Errorf("Index = %d, want 3", item.Index)
	}
	if item.Text != "hello" {
		t.Errorf("Text = %q, want %q", item.Text, "hello")
	}
	if item.Tensor != nil {
		t.Error("Tensor should be nil for text items")
	}
}

func TestContentItem_Item_WrapsTensor(t *testing.T) {
	item := ContentItem{Tensor: []float32{1, 2, 3}}.Item(0)
	if item.Tensor == nil {
		t.Fatal("Tensor should be set")
	}
	if len(item.Tensor.Shape) != 1 || item.Tensor.Shape[0] != 3 {
		t.Errorf("Shape = %v, want [3]", item.Tensor.Shape)
	}
}

func TestItemResult_Failed(t *testing.T) {
	ok := ItemResult{Index: 0, Embedding: []float32{1}}
	if ok.Failed() {
		t.Error("result with embedding should not be failed")
	}
	bad := ItemResult{Index: 1, Err: errors.New("decode failed")}
	if !bad.Failed() {
		t.Error("result with error should be failed")
	}
}

func TestItem_HasContent(t *testing.T) {
	if (Item{}).HasContent() {
		t.Error("empty item should not have content")
	}
	if !(Item{Text: "x"}).HasContent() {
		t.Error("text item should have content")
	}
	if (Item{Text: "x", Blob: []byte{1}}).HasContent() {
		t.Error("item with two content fields is invalid")
	}
}
