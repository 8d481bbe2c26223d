package planner

// AvailableFunctionsKey is the prompt variable holding the functions manual.
const AvailableFunctionsKey = "available_functions"

// functionFlowPrompt asks the model to complete a <plan> for the goal in
// {{ .input }} using only the functions in the manual.
const functionFlowPrompt = `Create an XML plan step by step, to satisfy the goal given.
To create a plan, follow these steps:
0. The plan should be as short as possible.
1. From a <goal> create a <plan> as a series of <function>s.
2. Use only the [AVAILABLE FUNCTIONS] - do not create new functions, inputs or attribute values.
3. Only use functions that are required for the given goal.
4. A function has an 'input' and an 'output'.
5. The 'output' from each function is automatically passed as 'input' to the subsequent <function>.
6. 'input' does not need to be specified if it consumes the 'output' of the previous function.
7. To save an 'output' from a <function>, to pass into a future <function>, use <function.{FunctionName} ... setContextVariable: "<UNIQUE_VARIABLE_KEY>"/>
8. To save an 'output' from a <function>, to return as part of a plan result, use <function.{FunctionName} ... appendToResult: "RESULT__<UNIQUE_RESULT_KEY>"/>
9. Only use ".", "_" or alphanumeric characters in attribute names.
10. Append an "END" XML comment at the end of the plan.

[EXAMPLES]
[AVAILABLE FUNCTIONS]

  _GLOBAL_FUNCTIONS_.GetEmailAddress:
    description: Gets email address for given contact
    inputs:
    - input: the name to look up

  _GLOBAL_FUNCTIONS_.SendEmail:
    description: email the input text to a recipient
    inputs:
    - input: the text to email
    - recipient: the recipient's email address. Multiple addresses may be included if separated by ';'.

  LanguageHelpers.TranslateTo:
    description: translate the input to another language
    inputs:
    - input: the text to translate
    - translate_to_language: the language to translate to

  WriterSkill.Summarize:
    description: summarize input text
    inputs:
    - input: the text to summarize

[END AVAILABLE FUNCTIONS]

<goal>Summarize an input, translate to french, and e-mail to John Doe</goal>
<plan>
    <function.WriterSkill.Summarize/>
    <function.LanguageHelpers.TranslateTo translate_to_language="French" setContextVariable="TRANSLATED_SUMMARY"/>
    <function._GLOBAL_FUNCTIONS_.GetEmailAddress input="John Doe" setContextVariable="EMAIL_ADDRESS"/>
    <function._GLOBAL_FUNCTIONS_.SendEmail input="$TRANSLATED_SUMMARY" recipient="$EMAIL_ADDRESS"/>
</plan><!-- END -->
[END EXAMPLES]

[AVAILABLE FUNCTIONS]

{{ .available_functions }}

[END AVAILABLE FUNCTIONS]

<goal>{{ .input }}</goal>
`
