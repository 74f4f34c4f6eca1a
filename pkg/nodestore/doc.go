/*
Package nodestore implements the node store (L5): the lowest layer
that understands tree structure. It rejects any block whose physical
size, format version, or depth/child-count bounds don't match its
Layout, so a corrupted or foreign block never reaches pkg/treestore
looking superficially valid.

Node is a tagged union (IsLeaf reports which case), never an interface
hierarchy: disk-layout code switches on a type byte, it does not
dispatch through method sets.
*/
package nodestore
