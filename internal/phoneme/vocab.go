package phoneme

import "sync"

// Symbol groups of the model's text vocabulary. The id of a symbol is its
// position in pad+punctuation+letters+lettersIPA, counted in code points.
// Symbols listed more than once keep the id of their last occurrence.
const (
	symbolPad         = "$"
	symbolPunctuation = `;:,.!?¡¿—…"«»"" `
	symbolLetters     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	symbolLettersIPA  = `ɑɐɒæɓʙβɔɕçɗɖðʤəɘɚɛɜɝɞɟʄɡɠɢʛɦɧħɥʜɨɪʝɭɬɫɮʟɱɯɰŋɳɲɴøɵɸθœɶʘɹɺɾɻʀʁɽʂʃʈʧʉʊʋⱱʌɣɤʍχʎʏʑʐʒʔʡʕʢǀǁǂǃˈˌːˑʼʴʰʱʲʷˠˤ˞↓↑→↗↘'̩'ᵻ`
)

// BoundaryID marks the start and end of every chunk's token sequence.
const BoundaryID int64 = 0

// Vocabulary maps phoneme characters to model token ids. It is immutable
// after construction and safe for concurrent use.
type Vocabulary struct {
	ids  map[rune]int64
	size int
}

var defaultVocabulary = sync.OnceValue(func() *Vocabulary {
	return NewVocabulary(symbolPad + symbolPunctuation + symbolLetters + symbolLettersIPA)
})

// DefaultVocabulary returns the shared vocabulary used by the bundled model.
func DefaultVocabulary() *Vocabulary {
	return defaultVocabulary()
}

// NewVocabulary builds a vocabulary from an ordered symbol table.
func NewVocabulary(symbols string) *Vocabulary {
	v := &Vocabulary{ids: make(map[rune]int64)}
	for _, r := range symbols {
		v.ids[r] = int64(v.size)
		v.size++
	}
	return v
}

// ID returns the token id of r.
func (v *Vocabulary) ID(r rune) (int64, bool) {
	id, ok := v.ids[r]
	return id, ok
}

// Size is the number of symbol slots, duplicates included.
func (v *Vocabulary) Size() int { return v.size }

// Encode maps every character of s to its id. Characters outside the
// vocabulary are skipped; dropped reports how many.
func (v *Vocabulary) Encode(s string) (ids []int64, dropped int) {
	ids = make([]int64, 0, len(s))
	for _, r := range s {
		id, ok := v.ids[r]
		if !ok {
			dropped++
			continue
		}
		ids = append(ids, id)
	}
	return ids, dropped
}

// EncodeChunk encodes s and wraps the ids with BoundaryID on both ends.
func (v *Vocabulary) EncodeChunk(s string) (ids []int64, dropped int) {
	inner, dropped := v.Encode(s)
	ids = make([]int64, 0, len(inner)+2)
	ids = append(ids, BoundaryID)
	ids = append(ids, inner...)
	ids = append(ids, BoundaryID)
	return ids, dropped
}
