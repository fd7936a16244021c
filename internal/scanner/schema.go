package scanner

import (
	"fmt"

	"github.com/mathhub/mathhub/internal/providers"
)

// responseSchema is sent to the model as its response schema and checked
// locally against what comes back.
const responseSchema = `{
	"type": "object",
	"properties": {
		"page_type": {
			"type": "string",
			"enum": ["cover", "toc", "concept", "problem", "answer", "explanation", "mixed", "other"]
		},
		"page_summary": {"type": "string"},
		"problems": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"candidate_no": {"type": "integer"},
					"question_no": {"type": "integer"},
					"statement_text": {"type": "string"},
					"subject_code": {"type": "string"},
					"problem_type": {"type": "string"},
					"answer_key": {"type": "string"},
					"point_value": {"type": "integer"},
					"has_visual_asset": {"type": "boolean"},
					"visual_asset_types": {"type": "array", "items": {"type": "string"}},
					"visual_assets": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"asset_type": {"type": "string", "enum": ["graph", "table", "image", "other"]},
								"bbox": {
									"type": "object",
									"properties": {
										"x0_ratio": {"type": "number"},
										"y0_ratio": {"type": "number"},
										"x1_ratio": {"type": "number"},
										"y1_ratio": {"type": "number"}
									},
									"required": ["x0_ratio", "y0_ratio", "x1_ratio", "y1_ratio"]
								}
							},
							"required": ["asset_type", "bbox"]
						}
					},
					"confidence": {"type": "number"},
					"bbox": {
						"type": "object",
						"properties": {
							"x0_ratio": {"type": "number"},
							"y0_ratio": {"type": "number"},
							"x1_ratio": {"type": "number"},
							"y1_ratio": {"type": "number"}
						},
						"required": ["x0_ratio", "y0_ratio", "x1_ratio", "y1_ratio"]
					}
				},
				"required": ["statement_text", "bbox"]
			}
		},
		"answer_candidates": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"question_no": {"type": "integer"},
					"answer_key": {"type": "string"},
					"evidence": {"type": "string"}
				},
				"required": ["question_no", "answer_key"]
			}
		}
	}
}`

var pageSchema = providers.MustCompileSchema(responseSchema)

func pagePrompt(pageNo int) string {
	return fmt.Sprintf(`You analyze one textbook page image for Korean high-school math ingestion.
Return ONLY JSON.
Tasks:
1) classify page_type as cover/toc/concept/problem/answer/explanation/mixed/other.
2) extract problem candidates only when they are real question statements.
3) for each problem, provide normalized bbox ratios x0_ratio,y0_ratio,x1_ratio,y1_ratio in [0,1].
4) if answer keys are visible (answer/explanation pages), extract answer_candidates as {question_no, answer_key}.
5) use subject_code only from MATH_I,MATH_II,PROB_STATS,CALCULUS,GEOMETRY when inferable.
6) when a problem shows a graph, table or figure, list them in visual_asset_types.
7) for each such graph, table or figure, add visual_assets {asset_type, bbox} with bbox ratios relative to the problem's own bbox.
Current page number: %d`, pageNo)
}
