package vm

import "testing"

// countHeap walks the heap list directly, bypassing any accounting fields,
// to get a ground-truth count of live objects after a sweep.
func countHeap(rt *Runtime) int {
	n := 0
	for obj := rt.heap; obj != nil; obj = obj.gcHeader().next {
		n++
	}
	return n
}

func TestCollectFreesUnreachableObjects(t *testing.T) {
	rt := newTestRuntime(t)
	before := countHeap(rt)
	for i := 0; i < 50; i++ {
		rt.NewString("garbage")
	}
	if got := countHeap(rt); got != before+50 {
		t.Fatalf("heap count after allocation = %d, want %d", got, before+50)
	}
	rt.Collect()
	if got := countHeap(rt); got != before {
		t.Fatalf("heap count after Collect = %d, want %d (everything unreachable)", got, before)
	}
}

func TestCollectPreservesGlobals(t *testing.T) {
	rt := newTestRuntime(t)
	key := rt.NewString("kept")
	rt.Globals().Put(StringValue(key), IntegerValue(1))
	rt.Collect()
	if _, ok := rt.Globals().Get(StringValue(key)); !ok {
		t.Fatal("a string rooted only via globals was collected")
	}
}

func TestCollectPreservesActiveFrameRegisters(t *testing.T) {
	rt := newTestRuntime(t)

	fn := rt.NewFunction()
	fn.Arity, fn.LocalCount = 1, 2
	held := rt.NewString("rooted-by-frame")

	base := len(rt.stack)
	rt.growStack(base + 2)
	rt.stack[base] = FunctionValue(fn)
	rt.stack[base+1] = StringValue(held)
	rt.frames = append(rt.frames, CallFrame{stackBase: base, stackSize: 2})
	defer func() { rt.frames = rt.frames[:len(rt.frames)-1] }()

	rt.Collect()

	if held.header.marked {
		t.Fatal("mark bit should be cleared again after sweep")
	}
	found := false
	for obj := rt.heap; obj != nil; obj = obj.gcHeader().next {
		if obj == Object(held) {
			found = true
		}
	}
	if !found {
		t.Fatal("a string referenced only by an active frame's register was collected")
	}
}

func TestCollectTransitivelyMarksMapEntries(t *testing.T) {
	rt := newTestRuntime(t)
	m := rt.NewMap()
	k := rt.NewString("k")
	v := rt.NewString("v")
	m.Put(StringValue(k), StringValue(v))
	rt.Globals().Put(StringValue(rt.NewString("container")), MapValue(m))

	rt.Collect()

	found := false
	for obj := rt.heap; obj != nil; obj = obj.gcHeader().next {
		if obj == Object(v) {
			found = true
		}
	}
	if !found {
		t.Fatal("a string reachable only through a map value was collected")
	}
}

func TestCollectTransitivelyMarksFunctionConstants(t *testing.T) {
	rt := newTestRuntime(t)
	inner := rt.NewString("nested-constant")
	fn := rt.NewFunction()
	fn.Arity, fn.LocalCount = 1, 1
	fn.Constants = append(fn.Constants, StringValue(inner))
	rt.Globals().Put(StringValue(rt.NewString("f")), FunctionValue(fn))

	rt.Collect()

	found := false
	for obj := rt.heap; obj != nil; obj = obj.gcHeader().next {
		if obj == Object(inner) {
			found = true
		}
	}
	if !found {
		t.Fatal("a string reachable only through a function's constant pool was collected")
	}
}

func TestCollectGrowsThreshold(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Globals().Put(StringValue(rt.NewString("anchor")), IntegerValue(1))
	rt.Collect()
	if rt.nextGc < minGcThreshold {
		t.Fatalf("nextGc = %d, want at least the minimum threshold %d", rt.nextGc, minGcThreshold)
	}
}

func TestRootPreventsCollectionOfAnUnreachableValue(t *testing.T) {
	rt := newTestRuntime(t)
	held := rt.NewString("unrooted-but-pinned")

	rt.Root(StringValue(held))
	defer rt.Unroot()

	for i := 0; i < 50; i++ {
		rt.NewString("garbage")
	}
	rt.Collect()

	found := false
	for obj := rt.heap; obj != nil; obj = obj.gcHeader().next {
		if obj == Object(held) {
			found = true
		}
	}
	if !found {
		t.Fatal("a Value held only via Root was collected")
	}
}

func TestUnrootedValueIsCollected(t *testing.T) {
	rt := newTestRuntime(t)
	gone := rt.NewString("not-rooted")

	for i := 0; i < 50; i++ {
		rt.NewString("garbage")
	}
	rt.Collect()

	for obj := rt.heap; obj != nil; obj = obj.gcHeader().next {
		if obj == Object(gone) {
			t.Fatal("a Value with no root at all survived collection")
		}
	}
}

func TestCollectStressManyStringsRetainEveryHundredth(t *testing.T) {
	rt := newTestRuntime(t)
	var retained []*String
	for i := 0; i < 10000; i++ {
		s := rt.NewString("stress")
		if i%100 == 0 {
			retained = append(retained, s)
			rt.Globals().Put(IntegerValue(int64(i)), StringValue(s))
		}
	}
	rt.Collect()
	for i, s := range retained {
		if s.String() != "stress" {
			t.Fatalf("retained string %d corrupted: %q", i, s.String())
		}
	}
	if got := countHeap(rt); got < len(retained) {
		t.Fatalf("heap count %d smaller than the %d retained strings", got, len(retained))
	}
}
