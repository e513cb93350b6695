// Package prompts holds the text the runtime sends to models: the
// default agent documents and the instructions the tool loop injects.
//
// The defaults ship as embedded markdown so they can be read and edited
// like any other document. Users override them per install through the
// documents API or the documents section of the config file.
package prompts
