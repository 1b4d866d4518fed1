package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/poiesic/ragjobs/core"
)

const reformulationPrompt = `You are an assistant specialised in semantic search over a vector database.

Goal:
Rewrite the user request so that a vector search returns the most relevant passages.

Instructions:
- Answer in the language of the request
- Rewrite the request clearly, concisely and factually
- Remove conversational or subjective wording
- Keep only the informational intent
- Add synonyms or close terms when they widen semantic coverage
- Do not ask questions
- Do not explain anything
- Do not answer the request, only rewrite it

User request:
%q
`

const rerankPrompt = `You are the reranking engine of a retrieval augmented generation system.

User question:
%s

Below are numbered document extracts.
Order them by relevance for answering the question.
Reply only with a list of indices separated by commas.

Extracts:
%s

Ranking:`

const answerPrompt = `You are a factual answering engine in a retrieval augmented generation system.

ABSOLUTE CONSTRAINTS:
- Every sentence of the answer MUST be supported by at least one source of the context
- Information that cannot be supported MUST be left out
- Never infer, deduce or complete missing information
- Sources must match the provided metadata exactly
- If no source applies, return:
{"answer": %q, "sources": []}

STRICT OUTPUT FORMAT (JSON ONLY):
{
  "answer": "...",
  "sources": [
    {"filename": "...", "section": "...", "pages": [1]}
  ]
}

DOCUMENT CONTEXT:
%s

QUESTION:
%s

JSON ANSWER:
`

func buildReformulationPrompt(query string) string {
	return fmt.Sprintf(reformulationPrompt, query)
}

func buildRerankPrompt(query string, hits []core.SearchHit) string {
	extracts := make([]string, len(hits))
	for i, hit := range hits {
		extracts[i] = fmt.Sprintf("[%d] %s", i, strings.TrimSpace(hit.Chunk.Text))
	}
	return fmt.Sprintf(rerankPrompt, query, strings.Join(extracts, "\n\n"))
}

func buildAnswerPrompt(query string, hits []core.SearchHit) string {
	return fmt.Sprintf(answerPrompt, core.NoDataAnswer, buildContext(hits), query)
}

// buildContext renders one numbered block per chunk with its citation metadata.
func buildContext(hits []core.SearchHit) string {
	blocks := make([]string, len(hits))
	for i, hit := range hits {
		filename := hit.Chunk.Filename
		if filename == "" {
			filename = "unknown source"
		}
		section := hit.Chunk.SectionPath
		if section == "" {
			section = "unspecified section"
		}
		pages := "unspecified"
		if len(hit.Chunk.Pages) > 0 {
			nums := make([]string, len(hit.Chunk.Pages))
			for j, p := range hit.Chunk.Pages {
				nums[j] = strconv.Itoa(p)
			}
			pages = strings.Join(nums, ", ")
		}
		blocks[i] = fmt.Sprintf("Source %d\nFile: %s\nSection: %s\nPages: %s\nContent:\n%s",
			i+1, filename, section, pages, strings.TrimSpace(hit.Chunk.Text))
	}
	return strings.Join(blocks, "\n\n")
}
