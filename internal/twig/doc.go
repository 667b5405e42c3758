/*
Package twig provides a structured representation of the short-hand
addresses used to look up parameters in a bundle.

A twig is an '@'-separated sequence of segments, e.g.
`requiv@primary@component`. Each segment names either the qualifier of a
parameter or the value of one of its tags (component, dataset, context, ...).
Segment order carries no meaning. A segment may contain '*' as a glob.
*/
package twig
