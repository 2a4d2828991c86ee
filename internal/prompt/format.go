package prompt

// outputFormatInstructions tells the worker how to shape its handoff. The
// field names match the handoff JSON envelope the parser accepts.
const outputFormatInstructions = `When you finish, respond with a single JSON object (optionally inside a json
code fence) with these fields:

{
  "narrative": "free-text account of what you did and why; write at least a
                substantial paragraph, this is the primary memory the next
                iteration reads",
  "deviations": ["anything you did differently from the task description"],
  "constraints": ["hard rules you discovered that future work must honor"],
  "decisions": ["choices you made and their one-line rationale"],
  "architectural_notes": ["structural observations worth remembering"],
  "files_touched": ["paths you created or modified"],
  "tests_added": ["test names or files you added"],
  "unfinished": ["work you started but did not complete"],
  "plan_amendments": [{"action": "add|modify|remove", "task_id": "...",
                       "title": "...", "description": "...",
                       "depends_on": [], "acceptance_criteria": []}],
  "research_requests": ["external docs or knowledge you were missing"],
  "needs_human_review": false,
  "confidence": 0.0,
  "refusal": false
}

Only "narrative" is required. Set "refusal": true and explain in the narrative
if the task cannot or should not be done. Propose at most three amendments.`
