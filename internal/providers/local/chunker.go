package local

import "strings"

// chunkText splits text into chunks of at most chunkSize words, using word counts
// as a proxy for tokens. Consecutive chunks share overlap words.
func chunkText(text string, chunkSize, overlap int) []chunk {
	if chunkSize <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	step := chunkSize - overlap
	if step <= 0 {
		step = chunkSize
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []chunk
	for i := 0; i < len(words); i += step {
		end := min(i+chunkSize, len(words))
		chunks = append(chunks, chunk{
			Offset: i,
			Text:   strings.Join(words[i:end], " "),
			Tokens: end - i,
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}

type chunk struct {
	Offset int
	Text   string
	Tokens int
}
