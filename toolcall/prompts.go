package toolcall

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/richinex/toolweave/tools"
)

// strictRequestInstructions is appended to the agent system prompt when the
// strict strategy turns natural-language requests into calls.
const strictRequestInstructions = `You operate using the ReAct (Reasoning + Acting) methodology, with support for both sequential and parallel tool execution.

GENERAL PRINCIPLES:
1. First THINK about what information you need and which tools would provide it
2. Then REQUEST appropriate tools using the <tool_request> tag
3. After receiving results, OBSERVE the outcomes
4. Then DECIDE whether to use more tools or provide a final answer

SEQUENTIAL VS PARALLEL TOOL CALLS:
- SEQUENTIAL: Use when the output of one tool is needed as input for another tool
- PARALLEL: Use when multiple independent pieces of information are needed at once

For SEQUENTIAL dependencies (when tools depend on each other's results):
- Request ONE tool at a time using a single <tool_request> tag
- Wait for each result before requesting the next tool
- Use previous results to inform subsequent tool requests

For PARALLEL execution (when tools don't depend on each other):
- You may include MULTIPLE <tool_request> tags in one response
- Each tag should contain ONE specific tool instruction
- All parallel tools will execute before you receive any results

TO REQUEST TOOLS:
<tool_request>Clear instruction for exactly ONE tool call</tool_request>

EXAMPLES:

Example 1 - Sequential dependency (correct approach):
User: Find security vulnerabilities in my code and fix them.
Assistant: I'll first search for potential vulnerabilities.
<tool_request>Scan the codebase for security vulnerabilities.</tool_request>

[After receiving scan results]
Assistant: I found some vulnerabilities. Now I'll fix the most critical one.
<tool_request>Apply security patch to fix SQL injection in login.php.</tool_request>

Example 2 - Parallel execution (correct approach):
User: Summarize today's weather and news headlines.
Assistant: I'll gather both weather and news information for you.
<tool_request>Get today's weather forecast for the user's location.</tool_request>
<tool_request>Retrieve today's top news headlines.</tool_request>

Example 3 - Mixed approach:
User: Compare performance metrics across our three products and suggest improvements.
Assistant: I'll gather performance data for all products simultaneously.
<tool_request>Get performance metrics for Product A.</tool_request>
<tool_request>Get performance metrics for Product B.</tool_request>
<tool_request>Get performance metrics for Product C.</tool_request>

[After receiving all metrics]
Assistant: Now I'll analyze which product needs the most improvement.
<tool_request>Run detailed analysis on Product B's performance bottlenecks.</tool_request>

If no tool is needed, simply provide a direct answer without any <tool_request> tags.`

// repairRequestInstructions asks the agent model to emit the JSON tool_calls
// shape directly inside <tool_request>.
const repairRequestInstructions = `You operate using the ReAct (Reasoning + Acting) methodology, with support for both sequential and parallel tool execution.

GENERAL PRINCIPLES:
1. First THINK about what information you need and which tools would provide it
2. Then REQUEST appropriate tools using JSON format
3. After receiving results, OBSERVE the outcomes
4. Then DECIDE whether to use more tools or provide a final answer

SEQUENTIAL VS PARALLEL TOOL CALLS:
- SEQUENTIAL: Use when the output of one tool is needed as input for another tool
- PARALLEL: Use when multiple independent pieces of information are needed at once

For SEQUENTIAL dependencies (when tools depend on each other's results):
- Request ONE tool at a time using a single JSON object
- Wait for each result before requesting the next tool
- Use previous results to inform subsequent tool requests

For PARALLEL execution (when tools don't depend on each other):
- Include MULTIPLE function calls in the tool_calls array
- Each function should contain ONE specific tool instruction
- All parallel tools will execute before you receive any results

TO REQUEST TOOLS, OUTPUT JSON IN THIS FORMAT:
<tool_request>
{
    "tool_calls": [
        {
            "function": {
                "name": "tool_name",
                "arguments": {
                    "param1": "value1",
                    "param2": "value2"
                }
            }
        }
    ]
}
</tool_request>

-----

EXAMPLES:

Example 1 - Sequential dependency (correct approach):
User: Find security vulnerabilities in my code and fix them.
Assistant:
<tool_request>
{
    "tool_calls": [
        {
            "function": {
                "name": "scan_security_vulnerabilities",
                "arguments": {
                    "target": "codebase"
                }
            }
        }
    ]
}
</tool_request>
[After receiving scan results]
Assistant:
<tool_request>
{
    "tool_calls": [
        {
            "function": {
                "name": "apply_security_patch",
                "arguments": {
                    "file": "login.php",
                    "vulnerability_type": "sql_injection"
                }
            }
        }
    ]
}
</tool_request>
Example 2 - Parallel execution (correct approach):
User: Summarize today's weather and news headlines.
Assistant:
<tool_request>
{
    "tool_calls": [
        {
            "function": {
                "name": "get_weather_forecast",
                "arguments": {
                    "location": "user_location"
                }
            }
        },
        {
            "function": {
                "name": "get_news_headlines",
                "arguments": {
                    "category": "top"
                }
            }
        }
    ]
}
</tool_request>
Example 3 - Mixed approach:
User: Compare performance metrics across our three products and suggest improvements.
Assistant:
<tool_request>
{
    "tool_calls": [
        {
            "function": {
                "name": "get_performance_metrics",
                "arguments": {
                    "product": "Product A"
                }
            }
        },
        {
            "function": {
                "name": "get_performance_metrics",
                "arguments": {
                    "product": "Product B"
                }
            }
        },
        {
            "function": {
                "name": "get_performance_metrics",
                "arguments": {
                    "product": "Product C"
                }
            }
        }
    ]
}
</tool_request>
[After receiving all metrics]
Assistant:
<tool_request>
{
    "tool_calls": [
        {
            "function": {
                "name": "analyze_performance_bottlenecks",
                "arguments": {
                    "product": "Product B"
                }
            }
        }
    ]
}
</tool_request>
If no tool is needed, simply provide a direct answer without any JSON tool call format.
------

IMPORTANT RULES:
1. ONLY use tool names from the list in the Available tools section - never invent new tool names
2. ONLY use parameter names that are listed for each tool - never invent new parameters
3. YOU CAN USE MULTIPLE TOOLS OR THE SAME TOOL MULTIPLE TIMES if the request requires it
4. If only one tool is needed, still use the proper array format with a single element
`

const toolCallsExample = `{
    "tool_calls": [
        {
            "function": {
                "name": "tool_name",
                "arguments": {
                    "param1": "value1",
                    "param2": "value2"
                }
            }
        },
        {
            "function": {
                "name": "another_tool_name",
                "arguments": {
                    "param1": "value1",
                    "param2": "value2"
                }
            }
        }
    ]
}`

// generationPrompt is the system prompt of the strict strategy's dedicated
// JSON call.
func generationPrompt(catalog tools.Catalog) string {
	return fmt.Sprintf(`You are a tool calling expert. Your task is to generate correct JSON format tool calls based ONLY on the tools that are available.

AVAILABLE TOOLS (ONLY USE THESE - DO NOT INVENT NEW ONES):
%s

IMPORTANT RULES:
1. ONLY use tool names from the list above - never invent new tool names
2. ONLY use parameter names that are listed for each tool - never invent new parameters
3. If a requested tool doesn't exactly match any available tool, use the closest matching one
4. YOU CAN USE MULTIPLE TOOLS OR THE SAME TOOL MULTIPLE TIMES if the request requires it
5. If only one tool is needed, still use the proper array format with a single element

You must output strictly in the following JSON format:
%s

The number of tool calls in the array should match exactly what's needed - don't add unnecessary calls.
For simple requests needing only one tool call, return an array with just one element.
Output JSON only, no other text. The arguments must be a valid JSON object.`, promptSummary(catalog), toolCallsExample)
}

// promptSummary lists tools as "- name: desc\n  Parameters: a, b".
func promptSummary(catalog tools.Catalog) string {
	lines := make([]string, 0, len(catalog))
	for _, s := range catalog {
		desc := s.Function.Description
		if desc == "" {
			desc = "No description available"
		}
		params := strings.Join(s.ParamNames(), ", ")
		if params == "" {
			params = "No parameters"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s\n  Parameters: %s", s.Name(), desc, params))
	}
	return strings.Join(lines, "\n")
}

const rewriteSystemPrompt = `You are an AI assistant that helps rewrite instructions that failed due to API errors.
Your task is to rewrite the instruction to make it more concise while preserving its core intent.
DO NOT add explanations or commentary - just provide the rewritten instruction.`

func rewritePrompt(instruction, errMsg string) string {
	return fmt.Sprintf(`The following instruction caused an error when processed:

ORIGINAL INSTRUCTION:
%s

ERROR MESSAGE:
%s

Please rewrite this instruction based on the error message while maintaining its core intent.
`, instruction, errMsg)
}

const matchSystemPrompt = `You are a tool matching expert. Your task is to find the closest matching
tool from the available tools list that matches the intent of the invalid tool call.
Only respond with the exact name of the closest matching tool - no explanation or other text.`

func matchPrompt(invalid string, args map[string]any, catalog tools.Catalog) string {
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		argsJSON = []byte("{}")
	}
	return fmt.Sprintf(`Invalid tool: %s
Arguments: %s

Available tools:
%s

What is the closest matching tool from the available tools list? Respond with ONLY the exact tool name.`,
		invalid, argsJSON, catalog.Summary())
}
