/*
Package category implements the per-category resource allocation engine:
it folds each completed task's peak observed resource usage into a
histogram and recommends the next task's allocation under one of six
policies (Fixed, Max, MinWaste, MaxThroughput, GreedyBucketing,
ExhaustiveBucketing).

# Two-step retry

A task's first attempt uses Allocate (label First). If the task overflows
its allocation, NextLabel decides whether a second attempt at the Max label
is worth trying or whether the category should give up with LabelError;
AllocateForLabel then supplies the retry's actual allocation.

# Steady state

Once enough completions have landed and the observed maximum has gone
unchanged long enough, SteadyState reports true, signalling that Max-mode
categories can skip the retry-inflation caution that applies to a category
still being learned.
*/
package category
