// Package uma decides UMA 2.0 permission requests.
//
// An Evaluator looks at every line of a permission ticket, loads the
// policies attached to the line's resource set in attachment order and
// evaluates their rules. Rules are alternatives: the first rule whose
// conditions all hold authorizes the line. The conditions of a rule are
//
//   - scopes: the rule grants every requested scope;
//   - client: the requesting client is allowed, or the rule allows any client;
//   - claims: a claim token is presented and carries every required claim
//     value (several values of one claim type, such as roles, must all be
//     present);
//   - consent: the resource owner approved the ticket when the rule asks
//     for it.
//
// When no rule authorizes a line the most advanced outcome wins, in the
// order RequestSubmitted, NeedInfo, NotAuthorized. A ticket is authorized
// only when every line is; otherwise the first line that is not decides.
package uma
