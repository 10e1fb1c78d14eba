package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func det(label string, classID int, box BBox) Detection {
	return Detection{BBox: box, Confidence: 0.9, ClassID: classID, Label: label}
}

func TestFilterClassIDsTakePrecedence(t *testing.T) {
	f := Filter{ClassIDs: []int{0}, Labels: []string{"box"}}
	assert.True(t, f.Match(det("person", 0, BBox{})))
	assert.False(t, f.Match(det("box", 7, BBox{})), "labels ignored when class ids are set")
}

func TestFilterLabelsCaseInsensitive(t *testing.T) {
	f := Filter{Labels: []string{"Kotak"}}
	assert.True(t, f.Match(det("kotak", 3, BBox{})))
	assert.False(t, f.Match(det("person", 0, BBox{})))
}

func TestFilterEmptyMatchesAll(t *testing.T) {
	assert.True(t, Filter{}.Match(det("anything", 42, BBox{})))
}

func TestFilterMinAreaRatio(t *testing.T) {
	f := Filter{MinAreaRatio: 0.01}
	small := det("box", 1, BBox{0, 0, 5, 5})    // 25 / 10000
	large := det("box", 1, BBox{0, 0, 20, 20}) // 400 / 10000
	got := f.Apply([]Detection{small, large}, 100*100)
	assert.Equal(t, []Detection{large}, got)
}

func TestFilterCapsDetections(t *testing.T) {
	dets := make([]Detection, MaxDetections+10)
	got := Filter{}.Apply(dets, 100)
	assert.Len(t, got, MaxDetections)
}

func TestBBoxHelpers(t *testing.T) {
	b := BBox{X1: 2, Y1: 3, X2: 2, Y2: 9}
	assert.Equal(t, 1, b.Area(), "degenerate boxes count as area 1")
	assert.Equal(t, BBox{12, 23, 12, 29}, b.Offset(10, 20))
}

func TestLabelFor(t *testing.T) {
	labels := []string{"background", "person"}
	assert.Equal(t, "person", LabelFor(labels, 1))
	assert.Equal(t, "obj", LabelFor(labels, 5))
	assert.Equal(t, "obj", LabelFor(labels, -1))
}
