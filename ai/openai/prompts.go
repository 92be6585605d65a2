package openai

import "fmt"

const summarySystemPrompt = `You are a research analyst. Always return valid JSON with 'tags' and 'summary'.`

const summaryPromptTemplate = `You are a research analyst building a hyperlinked knowledge base of research papers.

Below is the raw text of a research paper.

Your tasks:

1. Tags
   - Identify 12-18 keywords naming the core models, algorithms and theories of the paper.

2. Summary
   Write a detailed Markdown summary with exactly these sections:
   - ### Core Problem
   - ### Theoretical Approach
   - ### Formal Deep Dive
   - ### System Architecture and Implementation
   - ### Limitations
   - ### Analytical Reflection

   In every section:
   - Include the key formulas, derivations and assumptions, rendered in LaTeX inside $$...$$ blocks.
   - Explain every symbol you introduce.
   - Describe the system architecture where there is one, with pseudocode when possible.
   - Mark important algorithms and concepts with double brackets, e.g. [[Deep Q-Learning]], [[Transformer]].

3. Output format
   - Output a single flat JSON object with exactly two keys:
     "tags": a list of strings
     "summary": one Markdown string
   - No code fences, no nested JSON inside the summary, no commentary outside the object.

Example:
{
  "tags": ["chaotic systems", "genetic programming", "nonlinear odes"],
  "summary": "### Core Problem\nThe paper studies chaotic systems..."
}

PAPER CONTENT:
%s`

const conceptResponseSchema = `{
  "type": "object",
  "properties": {
    "concepts": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "phrase": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        },
        "required": ["phrase", "confidence"],
        "additionalProperties": false
      }
    }
  },
  "required": ["concepts"],
  "additionalProperties": false
}`

const conceptPromptTemplate = `Extract the key technical concepts of the given research text and return them as JSON.
Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- A concept is a named method, model, algorithm, theory, dataset or phenomenon.
- Phrases keep their conventional capitalization and are 1-5 words long.
- List concepts in the order they first appear in the text.
- Confidence is a number from 0 (barely relevant) to 1 (central to the paper).
- Include only concepts that are explicitly mentioned in the text. Do not hallucinate.
- If no concepts can be identified, return "concepts": [].

Example:
Input: "We extend Deep Q-Learning with a Transformer encoder and evaluate on Atari."
Output:
{
  "concepts": [
    {"phrase":"Deep Q-Learning","confidence":0.95},
    {"phrase":"Transformer","confidence":0.9},
    {"phrase":"Atari","confidence":0.6}
  ]
}`

// buildSummaryPrompt embeds the paper text in the summary prompt.
func buildSummaryPrompt(text string) string {
	return fmt.Sprintf(summaryPromptTemplate, text)
}

// buildConceptPrompt creates the system prompt with the response schema embedded.
func buildConceptPrompt() string {
	return fmt.Sprintf(conceptPromptTemplate, conceptResponseSchema)
}
