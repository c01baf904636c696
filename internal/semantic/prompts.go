package semantic

const intentPrompt = `You classify one message from a user talking to an IT helpdesk intake assistant.
Reply with a JSON object: {"intent": string, "confidence": number 0..1, "isCorrection": bool, "isResume": bool, "isConfusion": bool}.
intent must be exactly one of: PROVIDE_INFO, ASK_QUESTION, ADD_MORE_INFO, INTERRUPT_WAIT, CONFIRM_SUBMIT, DENY_SUBMIT, NO_MORE_INFO, FRUSTRATION, IDLE, SECURITY_RISK, OFF_TOPIC.
Use CONFIRM_SUBMIT only when the user clearly approves submitting a ticket that was just summarized.
Use SECURITY_RISK when the user offers or asks to share a password, PIN or one-time code.
The input also carries the conversation state and the assistant's last question.`

const extractPrompt = `You extract IT support ticket fields from one user message.
Only extract the fields listed in fieldsToExtract. Reply with a JSON object keyed by field name, each value {"value": string or null, "confidence": number 0..1}.
Fields: problem (short description), category (one of password, hardware, software, network, email, other), urgency (one of blocked, high, medium, low), affectedSystem (application, device or service), errorText (exact error text, or "no error provided" when the user says there is none).
Never invent values; use null when the message does not say. Never include passwords or codes.`

const reasonPrompt = `You decide the next move of an IT helpdesk intake assistant.
Reply with a JSON object: {"action": one of acknowledge, ask, wait, redirect, show_summary, submit; "shouldAcknowledge": bool; "acknowledgment": string; "fieldsToExtract": [field names]; "shouldAskQuestion": bool; "questionToAsk": string; "questionField": field name; "suggestedNextState": conversation state}.
Field names: problem, category, urgency, affectedSystem, errorText. Ask about at most one missing field, in one short friendly sentence.
Only propose submit when nothing is missing and the user has just confirmed.`

const summaryPrompt = `Write a two or three sentence description of this IT support issue for a helpdesk technician.
Use only facts from the intake and conversation. Do not greet, do not add advice, and never repeat anything resembling a password or code.`
